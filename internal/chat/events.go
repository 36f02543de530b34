package chat

import "context"

// Action is a button press.
type Action struct {
	ActionID   string
	Value      string // usually the question id
	UserID     string
	ChannelID  string
	MessageRef string
	ThreadRef  string
	TriggerRef string
}

// Submission is a submitted form. Values maps field id to the entered text,
// the selected option value, or "true" for a ticked checkbox.
type Submission struct {
	CallbackID string
	UserID     string
	Metadata   string
	Values     map[string]string
}

// SubmissionResult tells the platform how to close a submitted form.
type SubmissionResult struct {
	// Errors keeps the form open with per-field messages.
	Errors map[string]string
	// Next replaces the form with a follow-up step.
	Next         *Form
	NextMetadata string
}

// Command is a slash command invocation.
type Command struct {
	Name       string // including the leading slash
	Text       string
	UserID     string
	ChannelID  string
	TriggerRef string
}

// Handler receives inbound events from a platform listener.
type Handler interface {
	HandleAction(ctx context.Context, a Action)
	HandleSubmission(ctx context.Context, s Submission) SubmissionResult
	HandleCommand(ctx context.Context, c Command)
}
