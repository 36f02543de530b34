// Package slack implements the chat Notifier and inbound event listener for
// Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
)

const (
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// defaultConcurrency bounds the number of events handled at once.
	defaultConcurrency = 32
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slackapi.MsgOption) (string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	OpenViewContext(ctx context.Context, triggerID string, view slackapi.ModalViewRequest) (*slackapi.ViewResponse, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event   { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements chat.Notifier for Slack and pumps Socket Mode events
// into a chat.Handler.
type Adapter struct {
	client       slackClient
	socket       socketClient
	appToken     string
	botToken     string
	botUserID    string
	policy       retry.Policy
	logger       *zap.Logger
	concurrency  int
	mu           sync.Mutex
	connected    bool
	closed       bool
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

var _ chat.Notifier = (*Adapter)(nil)

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken    string // xapp-... Slack app-level token for Socket Mode
	BotToken    string // xoxb-... Slack bot token
	Retry       retry.Policy
	Logger      *zap.Logger
	Concurrency int // max events handled concurrently; 0 uses the default
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.NotifierPolicy(10 * time.Second)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	a := &Adapter{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		policy:       policy,
		logger:       logging.OrNop(opts.Logger),
		concurrency:  concurrency,
		client:       opts.Client,
		socket:       opts.Socket,
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		if a.socket == nil {
			a.socket = &realSocketClient{client: socketmode.New(api)}
		}
	}
	return a, nil
}

// Connect verifies the bot token and records the bot's user id.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// Close stops a running Listen.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	return nil
}

// PostToChannel implements chat.Notifier.
func (a *Adapter) PostToChannel(ctx context.Context, channel string, msg chat.Message) (string, error) {
	if channel == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}
	var ts string
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		var postErr error
		_, ts, postErr = a.client.PostMessageContext(ctx, channel, buildMessageOptions(msg)...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post to %s: %w", channel, classify(err))
	}
	return ts, nil
}

// PostToUser implements chat.Notifier. Posting to a user id opens (or
// reuses) the bot's DM with that user.
func (a *Adapter) PostToUser(ctx context.Context, userID string, msg chat.Message) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("slack: no user specified")
	}
	var ts string
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		var postErr error
		_, ts, postErr = a.client.PostMessageContext(ctx, userID, buildMessageOptions(msg)...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: dm %s: %w", userID, err)
	}
	return ts, nil
}

// PostEphemeral implements chat.Notifier.
func (a *Adapter) PostEphemeral(ctx context.Context, channel, userID string, msg chat.Message) error {
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		_, postErr := a.client.PostEphemeralContext(ctx, channel, userID, buildMessageOptions(msg)...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: ephemeral to %s in %s: %w", userID, channel, classify(err))
	}
	return nil
}

// UpdateMessage implements chat.Notifier.
func (a *Adapter) UpdateMessage(ctx context.Context, channel, ref string, msg chat.Message) error {
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		_, _, _, updErr := a.client.UpdateMessageContext(ctx, channel, ref, buildMessageOptions(msg)...)
		return updErr
	})
	if err != nil {
		return fmt.Errorf("slack: update %s/%s: %w", channel, ref, classify(err))
	}
	return nil
}

// OpenForm implements chat.Notifier. Trigger ids expire after a few seconds,
// so the call is not retried.
func (a *Adapter) OpenForm(ctx context.Context, triggerRef string, form chat.Form, metadata string) error {
	if _, err := a.client.OpenViewContext(ctx, triggerRef, buildModal(form, metadata)); err != nil {
		return fmt.Errorf("slack: open form %s: %w", form.CallbackID, err)
	}
	return nil
}

// Listen runs Socket Mode and dispatches inbound events to h until ctx is
// cancelled or Close is called. Each event is handled on its own goroutine,
// bounded by the configured concurrency.
func (a *Adapter) Listen(ctx context.Context, h chat.Handler) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(listenCtx)
	g.SetLimit(a.concurrency + 1)

	go a.runWithReconnect(listenCtx)
	a.pumpEvents(gctx, g, h)
	return g.Wait()
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.logger.Warn("socket mode disconnected",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", a.maxReconnect),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.logger.Error("socket mode exhausted reconnection attempts", zap.Int("attempts", a.maxReconnect))
}

// pumpEvents reads Socket Mode events until ctx is done.
func (a *Adapter) pumpEvents(ctx context.Context, g *errgroup.Group, h chat.Handler) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, g, h, evt)
		}
	}
}

// handleSocketEvent acks and dispatches a single Socket Mode event.
func (a *Adapter) handleSocketEvent(ctx context.Context, g *errgroup.Group, h chat.Handler, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			a.ack(evt)
			return
		}
		switch cb.Type {
		case slackapi.InteractionTypeBlockActions:
			a.ack(evt)
			for _, act := range toActions(cb) {
				act := act
				g.Go(func() error {
					h.HandleAction(ctx, act)
					return nil
				})
			}
		case slackapi.InteractionTypeViewSubmission:
			// The submission response rides on the ack, so it is handled inline.
			res := h.HandleSubmission(ctx, toSubmission(cb))
			if evt.Request != nil {
				if payload := submissionResponse(res); payload != nil {
					a.socket.Ack(*evt.Request, payload)
				} else {
					a.socket.Ack(*evt.Request)
				}
			}
		default:
			a.ack(evt)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		a.ack(evt)
		if !ok {
			return
		}
		c := chat.Command{
			Name:       cmd.Command,
			Text:       cmd.Text,
			UserID:     cmd.UserID,
			ChannelID:  cmd.ChannelID,
			TriggerRef: cmd.TriggerID,
		}
		g.Go(func() error {
			h.HandleCommand(ctx, c)
			return nil
		})

	case socketmode.EventTypeEventsAPI:
		a.ack(evt)

	case socketmode.EventTypeConnecting:
		a.logger.Info("connecting to socket mode")

	case socketmode.EventTypeConnected:
		a.logger.Info("connected to socket mode")

	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket mode connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		a.logger.Info("server requested disconnect, will reconnect")
	}
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
}

// classify maps Slack's channel errors onto chat.ErrChannelNotFound.
func classify(err error) error {
	if isChannelError(err) {
		return fmt.Errorf("%w: %w", chat.ErrChannelNotFound, err)
	}
	return err
}

func isChannelError(err error) bool {
	code := ""
	var ser slackapi.SlackErrorResponse
	if errors.As(err, &ser) {
		code = ser.Err
	} else if err != nil {
		code = err.Error()
	}
	for _, c := range []string{"channel_not_found", "not_in_channel", "is_archived"} {
		if strings.Contains(code, c) {
			return true
		}
	}
	return false
}
