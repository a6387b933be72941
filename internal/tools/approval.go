package tools

import "sync"

// RejectionMessage is the tool result recorded for calls the user declined
// or left unanswered before sending their next message.
const RejectionMessage = "User skipped or otherwise chose not to allow this tool call to run. Do not retry it unless the user asks."

// ApprovalCache remembers per-call approval decisions keyed by call id.
// Decisions arrive from the UI goroutine while the turn loop reads them,
// so access is locked.
type ApprovalCache struct {
	mu        sync.Mutex
	decisions map[string]bool
}

// NewApprovalCache returns an empty decision cache.
func NewApprovalCache() *ApprovalCache {
	return &ApprovalCache{decisions: make(map[string]bool)}
}

// Record stores the user's decision for a call id.
func (c *ApprovalCache) Record(callID string, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[callID] = approved
}

// Decision reports whether a decision exists for callID and what it was.
func (c *ApprovalCache) Decision(callID string) (approved, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	approved, ok = c.decisions[callID]
	return approved, ok
}

// Forget drops the decision for a call id once it has been applied.
func (c *ApprovalCache) Forget(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.decisions, callID)
}
