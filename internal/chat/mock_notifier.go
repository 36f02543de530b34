package chat

import (
	"context"
	"fmt"
	"sync"
)

// Sent kinds recorded by MockNotifier.
const (
	SentChannel   = "channel"
	SentUser      = "user"
	SentEphemeral = "ephemeral"
	SentUpdate    = "update"
)

// Sent is one recorded outbound call.
type Sent struct {
	Kind    string
	Target  string // channel or user id
	User    string // ephemeral recipient
	Ref     string
	Message Message
}

// OpenedForm is one recorded OpenForm call.
type OpenedForm struct {
	TriggerRef string
	Form       Form
	Metadata   string
}

// MockNotifier implements Notifier for testing. It records every call and
// can be told to fail for particular targets.
type MockNotifier struct {
	mu      sync.Mutex
	sent    []Sent
	forms   []OpenedForm
	counter int
	fail    map[string]error // key: target id
	failAll error
}

var _ Notifier = (*MockNotifier)(nil)

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{fail: make(map[string]error)}
}

// PostToChannel records a channel post.
func (m *MockNotifier) PostToChannel(ctx context.Context, channel string, msg Message) (string, error) {
	return m.record(SentChannel, channel, "", msg)
}

// PostToUser records a direct message.
func (m *MockNotifier) PostToUser(ctx context.Context, userID string, msg Message) (string, error) {
	return m.record(SentUser, userID, "", msg)
}

// PostEphemeral records an ephemeral message.
func (m *MockNotifier) PostEphemeral(ctx context.Context, channel, userID string, msg Message) error {
	_, err := m.record(SentEphemeral, channel, userID, msg)
	return err
}

// UpdateMessage records a message update.
func (m *MockNotifier) UpdateMessage(ctx context.Context, channel, ref string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor(channel); err != nil {
		return err
	}
	m.sent = append(m.sent, Sent{Kind: SentUpdate, Target: channel, Ref: ref, Message: msg})
	return nil
}

// OpenForm records an opened form.
func (m *MockNotifier) OpenForm(ctx context.Context, triggerRef string, form Form, metadata string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.forms = append(m.forms, OpenedForm{TriggerRef: triggerRef, Form: form, Metadata: metadata})
	return nil
}

func (m *MockNotifier) record(kind, target, user string, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor(target); err != nil {
		return "", err
	}
	m.counter++
	ref := fmt.Sprintf("170000000%d.%06d", m.counter, m.counter)
	m.sent = append(m.sent, Sent{Kind: kind, Target: target, User: user, Ref: ref, Message: msg})
	return ref, nil
}

func (m *MockNotifier) failureFor(target string) error {
	if m.failAll != nil {
		return m.failAll
	}
	return m.fail[target]
}

// --- Test helpers ---

// FailFor makes every call addressed to target return err. A nil err clears it.
func (m *MockNotifier) FailFor(target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, target)
		return
	}
	m.fail[target] = err
}

// FailAll makes every call return err. A nil err clears it.
func (m *MockNotifier) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// AllSent returns a copy of all recorded calls.
func (m *MockNotifier) AllSent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the recorded calls addressed to target.
func (m *MockNotifier) SentTo(target string) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sent
	for _, s := range m.sent {
		if s.Target == target {
			out = append(out, s)
		}
	}
	return out
}

// SentCount returns the number of recorded calls.
func (m *MockNotifier) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// LastSent returns the most recent call, or false if there is none.
func (m *MockNotifier) LastSent() (Sent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Sent{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Forms returns a copy of all opened forms.
func (m *MockNotifier) Forms() []OpenedForm {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpenedForm, len(m.forms))
	copy(out, m.forms)
	return out
}

// Reset clears recorded calls and forms, keeping configured failures.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.forms = nil
}
