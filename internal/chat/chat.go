// Package chat defines the platform-neutral messaging surface the bot uses
// to talk to askers and mentors, and the inbound events it receives.
package chat

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned when a target channel cannot be posted to
// (missing, archived, or the bot is not a member).
var ErrChannelNotFound = errors.New("chat: channel not found")

// Notifier sends messages and forms to the chat platform.
type Notifier interface {
	// PostToChannel posts msg and returns the new message's ref.
	PostToChannel(ctx context.Context, channel string, msg Message) (string, error)

	// PostToUser sends msg as a direct message.
	PostToUser(ctx context.Context, userID string, msg Message) (string, error)

	// PostEphemeral shows msg to a single user inside a channel.
	PostEphemeral(ctx context.Context, channel, userID string, msg Message) error

	// UpdateMessage replaces the content of an existing message.
	UpdateMessage(ctx context.Context, channel, ref string, msg Message) error

	// OpenForm opens a modal form. metadata is returned verbatim with the
	// submission.
	OpenForm(ctx context.Context, triggerRef string, form Form, metadata string) error
}

// Message is an outbound message.
type Message struct {
	Text      string   // notification text; also the first section
	Sections  []string // extra markdown sections after Text
	Context   string   // small footer line
	ThreadRef string   // reply in this thread when set
	Buttons   []Button
}

// Button is an action button attached to a message.
type Button struct {
	ActionID string
	Label    string
	Value    string
	Style    string // "", "primary" or "danger"
}

// Button styles.
const (
	StylePrimary = "primary"
	StyleDanger  = "danger"
)

// FieldKind is the input type of a form field.
type FieldKind int

// Form field kinds.
const (
	FieldText FieldKind = iota
	FieldTextarea
	FieldSelect
	FieldCheckbox
	FieldInfo // read-only markdown, no input
)

// Option is one choice of a select or checkbox field.
type Option struct {
	Value string
	Label string
}

// Field is one input of a form.
type Field struct {
	ID          string
	Label       string
	Kind        FieldKind
	Options     []Option
	Initial     string
	Placeholder string
	Optional    bool
}

// Form is a modal dialog.
type Form struct {
	CallbackID string
	Title      string
	Submit     string
	Fields     []Field
}
