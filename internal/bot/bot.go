// Package bot turns inbound chat events (slash commands, form submissions
// and button presses) into lifecycle operations, and wires the bot's
// subsystems together into a daemon.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/cache"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

const (
	backgroundTimeout     = 2 * time.Minute
	defaultPostRetryDelay = time.Minute
	defaultPostRetries    = 3
)

// Lifecycle is the set of question state transitions the handler drives.
type Lifecycle interface {
	Claim(ctx context.Context, id, actorID string) (*lifecycle.Result, error)
	Resume(ctx context.Context, id, actorID string) (*lifecycle.Result, error)
	Pause(ctx context.Context, id, actorID string) (*lifecycle.Result, error)
	Release(ctx context.Context, id, actorID string) (*lifecycle.Result, error)
	Complete(ctx context.Context, id, actorID string) (*lifecycle.Result, error)
	CompleteByAsker(ctx context.Context, id, actorID, via string) (*lifecycle.Result, error)
}

// FollowUps arms follow-ups and records the asker's answers to them.
type FollowUps interface {
	Schedule(questionID string)
	MarkResolved(ctx context.Context, questionID, userID string) (*lifecycle.Result, error)
	MarkUnresolved(ctx context.Context, questionID, userID string) error
}

// Reservations defers questions and records the asker's self-resolve answer.
type Reservations interface {
	Schedule(ctx context.Context, q *models.Question) (bool, error)
	MarkResolved(ctx context.Context, id, userID string) (*lifecycle.Result, error)
	SendToMentor(ctx context.Context, id, userID string) (bool, error)
}

// Opts holds parameters for creating a Handler.
type Opts struct {
	Repo         store.Repository
	Notifier     chat.Notifier
	Lifecycle    Lifecycle
	FollowUps    FollowUps
	Reservations Reservations
	Poster       reservation.Poster
	Roster       *cache.Roster // invalidated on mentor changes; optional
	MorningHour  int
	Validate     *validator.Validate // defaults to NewValidator()
	Clock        clockwork.Clock
	// PostRetryDelay and PostRetries bound the re-posting of an immediate
	// question whose first post failed. Defaults: 1m and 3.
	PostRetryDelay time.Duration
	PostRetries    int
	Logger         *zap.Logger
}

// Handler implements chat.Handler.
type Handler struct {
	repo         store.Repository
	notifier     chat.Notifier
	lifecycle    Lifecycle
	followUps    FollowUps
	reservations Reservations
	poster       reservation.Poster
	roster       *cache.Roster
	morningHour  int
	validate     *validator.Validate
	logger       *zap.Logger

	clock          clockwork.Clock
	postRetryDelay time.Duration
	postRetries    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retryMu sync.Mutex
	closed  bool
	retries map[string]*postRetry
}

type postRetry struct {
	timer   clockwork.Timer
	attempt int
}

var _ chat.Handler = (*Handler)(nil)

// New creates a Handler.
func New(opts Opts) (*Handler, error) {
	switch {
	case opts.Repo == nil:
		return nil, fmt.Errorf("bot: repository is required")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("bot: notifier is required")
	case opts.Lifecycle == nil:
		return nil, fmt.Errorf("bot: lifecycle is required")
	case opts.FollowUps == nil:
		return nil, fmt.Errorf("bot: follow-ups are required")
	case opts.Reservations == nil:
		return nil, fmt.Errorf("bot: reservations are required")
	case opts.Poster == nil:
		return nil, fmt.Errorf("bot: poster is required")
	}
	v := opts.Validate
	if v == nil {
		v = NewValidator()
	}
	roster := opts.Roster
	if roster == nil {
		roster = cache.NewRoster(cache.RosterOpts{})
	}
	morning := opts.MorningHour
	if morning == 0 {
		morning = 9
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	retryDelay := opts.PostRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultPostRetryDelay
	}
	retries := opts.PostRetries
	if retries <= 0 {
		retries = defaultPostRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		repo:         opts.Repo,
		notifier:     opts.Notifier,
		lifecycle:    opts.Lifecycle,
		followUps:    opts.FollowUps,
		reservations: opts.Reservations,
		poster:       opts.Poster,
		roster:       roster,
		morningHour:  morning,
		validate:     v,
		logger:       logging.OrNop(opts.Logger),

		clock:          clock,
		postRetryDelay: retryDelay,
		postRetries:    retries,

		ctx:     ctx,
		cancel:  cancel,
		retries: make(map[string]*postRetry),
	}, nil
}

// Close stops pending re-posts, cancels background work started by
// submissions and waits for it.
func (h *Handler) Close() {
	h.retryMu.Lock()
	h.closed = true
	for id, r := range h.retries {
		r.timer.Stop()
		delete(h.retries, id)
	}
	h.retryMu.Unlock()
	h.cancel()
	h.wg.Wait()
}

// Wait blocks until background work started so far has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleAction dispatches a button press.
func (h *Handler) HandleAction(ctx context.Context, a chat.Action) {
	logger := logging.ForEvent(h.logger, "action").With(
		zap.String("action_id", a.ActionID),
		zap.String("user", a.UserID),
		zap.String("value", a.Value),
	)
	h.guard(ctx, logger, a.UserID, a.ChannelID, func() error {
		return h.routeAction(ctx, logger, a)
	})
}

// HandleCommand dispatches a slash command.
func (h *Handler) HandleCommand(ctx context.Context, c chat.Command) {
	logger := logging.ForEvent(h.logger, "command").With(
		zap.String("command", c.Name),
		zap.String("user", c.UserID),
		zap.String("channel", c.ChannelID),
	)
	h.guard(ctx, logger, c.UserID, c.ChannelID, func() error {
		return h.routeCommand(ctx, logger, c)
	})
}

// HandleSubmission dispatches a submitted form. Slow work is moved to the
// background so the platform gets its answer in time.
func (h *Handler) HandleSubmission(ctx context.Context, s chat.Submission) (res chat.SubmissionResult) {
	logger := logging.ForEvent(h.logger, "submission").With(
		zap.String("callback_id", s.CallbackID),
		zap.String("user", s.UserID),
	)
	h.guard(ctx, logger, s.UserID, "", func() error {
		var err error
		res, err = h.routeSubmission(ctx, logger, s)
		return err
	})
	return res
}

// guard runs fn, turning a returned error or a panic into a reply to user.
func (h *Handler) guard(ctx context.Context, logger *zap.Logger, userID, channelID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
			h.tell(ctx, logger, userID, channelID, msgDependency)
		}
	}()
	err := fn()
	if err == nil {
		return
	}
	kind := lifecycle.KindOf(err)
	if kind == lifecycle.DependencyFailure {
		logger.Error("handler failed", zap.Stringer("kind", kind), zap.Error(err))
	} else {
		logger.Info("operation rejected", zap.Stringer("kind", kind), zap.Error(err))
	}
	h.tell(ctx, logger, userID, channelID, UserMessage(err))
}

// tell sends text to user, ephemerally when a channel is known and by direct
// message otherwise. Failures are only logged.
func (h *Handler) tell(ctx context.Context, logger *zap.Logger, userID, channelID, text string) {
	if userID == "" {
		return
	}
	msg := chat.Message{Text: text}
	if channelID != "" {
		err := h.notifier.PostEphemeral(ctx, channelID, userID, msg)
		if err == nil {
			return
		}
		logger.Warn("ephemeral reply failed", zap.String("channel", channelID), zap.Error(err))
	}
	if _, err := h.notifier.PostToUser(ctx, userID, msg); err != nil {
		logger.Warn("direct reply failed", zap.Error(err))
	}
}

// background runs fn detached from the inbound event. On error the user is
// sent failText.
func (h *Handler) background(logger *zap.Logger, userID, failText string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, backgroundTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background panic", zap.Any("panic", r), zap.Stack("stack"))
				h.tell(ctx, logger, userID, "", failText)
			}
		}()
		if err := fn(ctx); err != nil {
			logger.Error("background task failed", zap.Error(err))
			h.tell(ctx, logger, userID, "", failText)
		}
	}()
}
