package main

import "github.com/voassist/vo/cmd"

func main() {
	cmd.Execute()
}
