// Package lifecycle implements the question state machine: claiming,
// pausing, resuming, releasing and completing questions, with the
// assignment-set rules that go with each transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Canceller cancels pending follow-up jobs for a question.
type Canceller interface {
	Cancel(questionID string)
}

// Recorder observes transition outcomes.
type Recorder interface {
	ObserveTransition(op, outcome string)
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	Repo      store.Repository
	Notifier  chat.Notifier
	FollowUps Canceller // optional
	Metrics   Recorder  // optional
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine runs lifecycle transitions. Every transition commits in a single
// repository transaction before any notification is sent.
type Engine struct {
	repo      store.Repository
	notifier  chat.Notifier
	followUps Canceller
	metrics   Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// Result describes a committed transition.
type Result struct {
	// Question is re-read after commit.
	Question *models.Question
	// Previous holds the assignment set captured before a completion.
	Previous []string
	// NotifyErr joins any notification failures. The transition itself
	// has already been committed.
	NotifyErr error
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("lifecycle: repository is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("lifecycle: notifier is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:      opts.Repo,
		notifier:  opts.Notifier,
		followUps: opts.FollowUps,
		metrics:   opts.Metrics,
		logger:    logging.OrNop(opts.Logger),
		now:       now,
	}, nil
}

// SetFollowUps wires the follow-up scheduler after construction, since the
// scheduler itself depends on the engine.
func (e *Engine) SetFollowUps(c Canceller) {
	e.followUps = c
}

// Claim moves a waiting question to in-progress with actorID as its only
// mentor. When two mentors race, exactly one wins; the other gets
// InvalidState.
func (e *Engine) Claim(ctx context.Context, id, actorID string) (*Result, error) {
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		ok, err := tx.CompareAndSetStatus(ctx, id, []string{models.StatusWaiting}, models.StatusInProgress, nil)
		if err != nil {
			return err
		}
		if !ok {
			q, err := tx.GetQuestion(ctx, id)
			if err != nil {
				return err
			}
			if q.Status == models.StatusCompleted {
				return reject(InvalidState, id, ReasonAlreadyCompleted)
			}
			return reject(InvalidState, id, ReasonAlreadyHandled)
		}
		if _, err := tx.AddToMentorSet(ctx, id, actorID); err != nil {
			return err
		}
		return tx.AppendStatusHistory(ctx, id, models.StatusInProgress, actorID)
	})
	res, err := e.finish(ctx, OpClaim, id, actorID, err)
	if err != nil {
		return nil, err
	}
	e.cancelFollowUps(id)
	res.NotifyErr = e.notify(ctx, res.Question, askerNotice(OpClaim, actorID, 0))
	return res, nil
}

// Resume moves a paused question back to in-progress, adding actorID to the
// assignment set if they are not already in it.
func (e *Engine) Resume(ctx context.Context, id, actorID string) (*Result, error) {
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		ok, err := tx.CompareAndSetStatus(ctx, id, []string{models.StatusPaused}, models.StatusInProgress, nil)
		if err != nil {
			return err
		}
		if !ok {
			return reject(InvalidState, id, ReasonNotPaused)
		}
		if _, err := tx.AddToMentorSet(ctx, id, actorID); err != nil {
			return err
		}
		return tx.AppendStatusHistory(ctx, id, models.StatusInProgress, actorID)
	})
	res, err := e.finish(ctx, OpResume, id, actorID, err)
	if err != nil {
		return nil, err
	}
	res.NotifyErr = e.notify(ctx, res.Question, askerNotice(OpResume, actorID, 0))
	return res, nil
}

// Pause moves an in-progress question to paused. Membership is unchanged.
func (e *Engine) Pause(ctx context.Context, id, actorID string) (*Result, error) {
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		ok, err := tx.CompareAndSetStatus(ctx, id, []string{models.StatusInProgress}, models.StatusPaused, nil)
		if err != nil {
			return err
		}
		if !ok {
			return reject(InvalidState, id, ReasonNotInProgress)
		}
		return tx.AppendStatusHistory(ctx, id, models.StatusPaused, actorID)
	})
	res, err := e.finish(ctx, OpPause, id, actorID, err)
	if err != nil {
		return nil, err
	}
	res.NotifyErr = e.notify(ctx, res.Question, askerNotice(OpPause, actorID, 0))
	return res, nil
}

// Release removes actorID from the assignment set. When the last mentor
// leaves, the question goes back to waiting; otherwise its status is kept.
// The question row is locked first so concurrent releases see each other's
// removals when counting what is left.
func (e *Engine) Release(ctx context.Context, id, actorID string) (*Result, error) {
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		q, err := tx.LockQuestion(ctx, id)
		if err != nil {
			return err
		}
		if !IsAssigned(q, actorID) {
			return reject(NotAssigned, id, ReasonNotAssigned)
		}
		if q.Status != models.StatusInProgress && q.Status != models.StatusPaused {
			return reject(InvalidState, id, ReasonNotReleasable)
		}

		remaining, err := tx.RemoveFromMentorSet(ctx, id, actorID)
		if err != nil {
			return err
		}
		resulting := q.Status
		if remaining == 0 {
			ok, err := tx.CompareAndSetStatus(ctx, id, []string{models.StatusInProgress, models.StatusPaused}, models.StatusWaiting, nil)
			if err != nil {
				return err
			}
			if !ok {
				return reject(InvalidState, id, ReasonNotReleasable)
			}
			resulting = models.StatusWaiting
		}
		return tx.AppendStatusHistory(ctx, id, resulting, actorID)
	})
	res, err := e.finish(ctx, OpRelease, id, actorID, err)
	if err != nil {
		return nil, err
	}
	res.NotifyErr = e.notify(ctx, res.Question, askerNotice(OpRelease, actorID, len(res.Question.Mentors)))
	return res, nil
}

// Complete is the mentor path to completion. It succeeds from any status
// except completed, clears the assignment set, and notifies the asker and
// every mentor that was assigned.
func (e *Engine) Complete(ctx context.Context, id, actorID string) (*Result, error) {
	var previous []string
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		q, err := tx.GetQuestion(ctx, id)
		if err != nil {
			return err
		}
		if q.Status == models.StatusCompleted {
			return reject(InvalidState, id, ReasonAlreadyCompleted)
		}
		previous = q.MentorIDs()
		return e.completeTx(ctx, tx, id, actorID, map[string]interface{}{
			"resolved_by":  actorID,
			"resolved_via": ViaMentor,
			"resolved_at":  e.now(),
		}, reject(InvalidState, id, ReasonAlreadyCompleted))
	})
	res, err := e.finish(ctx, OpComplete, id, actorID, err)
	if err != nil {
		return nil, err
	}
	res.Previous = previous
	e.cancelFollowUps(id)

	errs := []error{e.notify(ctx, res.Question, askerNotice(OpComplete, actorID, 0))}
	for _, m := range previous {
		errs = append(errs, e.dm(ctx, m, mentorCompletedNotice(res.Question, actorID, false)))
	}
	res.NotifyErr = errors.Join(errs...)
	return res, nil
}

// CompleteByAsker is the asker path to completion. Only the asker may use
// it, and a second attempt reports AlreadyCompleted. via records where the
// resolution came from (asker, followup, reservation).
func (e *Engine) CompleteByAsker(ctx context.Context, id, actorID, via string) (*Result, error) {
	if via == "" {
		via = ViaAsker
	}
	var previous []string
	err := e.repo.InTx(ctx, func(tx store.Repository) error {
		q, err := tx.GetQuestion(ctx, id)
		if err != nil {
			return err
		}
		if q.AskerID != actorID {
			return reject(NotAssigned, id, ReasonNotAsker)
		}
		if q.Status == models.StatusCompleted {
			return reject(AlreadyCompleted, id, ReasonAlreadyCompleted)
		}
		previous = q.MentorIDs()
		return e.completeTx(ctx, tx, id, actorID, map[string]interface{}{
			"resolved_by":      actorID,
			"resolved_via":     via,
			"resolved_by_user": true,
			"resolved_at":      e.now(),
		}, reject(AlreadyCompleted, id, ReasonAlreadyCompleted))
	})
	res, err := e.finish(ctx, OpCompleteByAsker, id, actorID, err)
	if err != nil {
		return nil, err
	}
	res.Previous = previous
	e.cancelFollowUps(id)

	errs := []error{e.notify(ctx, res.Question, askerResolvedNotice(via))}
	for _, m := range previous {
		errs = append(errs, e.dm(ctx, m, mentorCompletedNotice(res.Question, actorID, true)))
	}
	res.NotifyErr = errors.Join(errs...)
	return res, nil
}

// completeTx flips any open status to completed, clears the set and records
// history. lost is returned when another writer completed it first.
func (e *Engine) completeTx(ctx context.Context, tx store.Repository, id, actorID string, fields map[string]interface{}, lost error) error {
	ok, err := tx.CompareAndSetStatus(ctx, id, sourcesOf(models.StatusCompleted), models.StatusCompleted, fields)
	if err != nil {
		return err
	}
	if !ok {
		return lost
	}
	if err := tx.ClearMentorSet(ctx, id); err != nil {
		return err
	}
	return tx.AppendStatusHistory(ctx, id, models.StatusCompleted, actorID)
}

// finish classifies a transaction error, records the outcome and re-reads
// the question on success.
func (e *Engine) finish(ctx context.Context, op, id, actorID string, txErr error) (*Result, error) {
	logger := e.logger.With(zap.String("op", op), zap.String("question_id", id), zap.String("actor", actorID))

	if err := classify(id, txErr); err != nil {
		kind := KindOf(err)
		e.observe(op, kind.String())
		if kind == DependencyFailure {
			logger.Error("transition failed", zap.Error(err))
		} else {
			logger.Info("transition rejected", zap.String("kind", kind.String()), zap.Error(err))
		}
		return nil, err
	}

	q, err := e.repo.GetQuestion(ctx, id)
	if err != nil {
		e.observe(op, DependencyFailure.String())
		logger.Error("re-read after transition", zap.Error(err))
		return nil, classify(id, err)
	}
	e.observe(op, "ok")
	logger.Info("transition committed", zap.String("status", q.Status), zap.Strings("mentors", q.MentorIDs()))
	return &Result{Question: q}, nil
}

// notify DMs the asker and posts a status update under the question message.
func (e *Engine) notify(ctx context.Context, q *models.Question, askerText string) error {
	var errs []error
	if askerText != "" {
		errs = append(errs, e.dm(ctx, q.AskerID, chat.Message{Text: askerText}))
	}
	if q.ChannelRef != "" {
		if _, err := e.notifier.PostToChannel(ctx, q.ChannelRef, statusUpdate(q)); err != nil {
			e.logger.Warn("status update failed", zap.String("question_id", q.ID), zap.String("channel", q.ChannelRef), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) dm(ctx context.Context, userID string, msg chat.Message) error {
	if _, err := e.notifier.PostToUser(ctx, userID, msg); err != nil {
		e.logger.Warn("direct message failed", zap.String("user", userID), zap.Error(err))
		return fmt.Errorf("lifecycle: notify %s: %w", userID, err)
	}
	return nil
}

func (e *Engine) cancelFollowUps(id string) {
	if e.followUps != nil {
		e.followUps.Cancel(id)
	}
}

func (e *Engine) observe(op, outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveTransition(op, outcome)
	}
}
