package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/voassist/vo/internal/tools"
)

// Tools returns the scheduling tools exposed to the model.
func (s *Scheduler) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "schedule_task",
			Description: "Schedule a recurring task. The prompt runs whenever the cron expression is due.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Unique task name. Reusing a name replaces that task.",
					},
					"cron": map[string]any{
						"type":        "string",
						"description": "Standard five-field cron expression, e.g. '0 9 * * 1-5'.",
					},
					"prompt": map[string]any{
						"type":        "string",
						"description": "Instructions run when the task fires.",
					},
					"channel_id": map[string]any{
						"type":        "string",
						"description": "Channel to respond on when the task fires.",
					},
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone for the cron expression. Defaults to the process timezone.",
					},
				},
				"required": []any{"name", "cron", "prompt", "channel_id"},
			},
			Run: s.runSchedule,
		},
		{
			Name:        "unschedule_task",
			Description: "Remove a scheduled task by name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "Task name to remove."},
				},
				"required": []any{"name"},
			},
			Run: s.runUnschedule,
		},
		{
			Name:        "list_scheduled_tasks",
			Description: "List the scheduled tasks with their cron expressions.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         s.runList,
		},
	}
}

func (s *Scheduler) runSchedule(ctx context.Context, args map[string]any) (string, error) {
	job := Job{
		Name:      tools.StringArg(args, "name"),
		Cron:      tools.StringArg(args, "cron"),
		Prompt:    tools.StringArg(args, "prompt"),
		ChannelID: tools.StringArg(args, "channel_id"),
		Timezone:  tools.StringArg(args, "timezone"),
	}
	if err := s.AddJob(ctx, job); err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %q scheduled: %s", job.Name, job.Cron), nil
}

func (s *Scheduler) runUnschedule(ctx context.Context, args map[string]any) (string, error) {
	name := tools.StringArg(args, "name")
	removed, err := s.RemoveJob(ctx, name)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("No task named %q exists.", name), nil
	}
	return fmt.Sprintf("Task %q unscheduled.", name), nil
}

func (s *Scheduler) runList(ctx context.Context, _ map[string]any) (string, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No tasks are scheduled.", nil
	}

	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "- %s: %s", j.Name, j.Cron)
		if j.Timezone != "" {
			fmt.Fprintf(&b, " (%s)", j.Timezone)
		}
		fmt.Fprintf(&b, " -> %s\n  %s\n", j.ChannelID, j.Prompt)
	}
	return b.String(), nil
}
