// Package reservation defers questions to a chosen time, optionally asking
// the asker first whether they solved it on their own.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/followup"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Stage identifies a reservation timer.
type Stage string

// Reservation stages.
const (
	StageDispatch    Stage = "dispatch"
	StageAutoResolve Stage = "auto_resolve"
)

// Action ids of the self-resolve prompt.
const (
	ActionResolved     = "mark_resolved"
	ActionSendToMentor = "send_to_mentor"
)

const (
	defaultAutoResolve = 5 * time.Minute
	defaultRetry       = time.Minute
)

// Poster publishes a question to the mentor channel.
type Poster interface {
	PostQuestion(ctx context.Context, q *models.Question) error
}

// FollowUps arms follow-ups once a reservation is dispatched.
type FollowUps interface {
	Schedule(questionID string)
}

// Resolver completes a question on the asker's behalf.
type Resolver interface {
	CompleteByAsker(ctx context.Context, id, actorID, via string) (*lifecycle.Result, error)
}

// Recorder observes reservation outcomes.
type Recorder interface {
	ObserveReservation(outcome string)
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Repo        store.Repository
	Notifier    chat.Notifier
	Poster      Poster
	Resolver    Resolver
	FollowUps   FollowUps // optional
	Calendar    *Calendar
	Clock       clockwork.Clock
	AutoResolve time.Duration // self-resolve window; defaults to 5m
	RetryDelay  time.Duration // re-attempt after a failed post; defaults to 1m
	Metrics     Recorder
	Logger      *zap.Logger
}

type job struct {
	timer clockwork.Timer
}

// Scheduler owns reservation timers. Dispatch happens at most once per
// question, guarded by the repository's dispatched_at stamp.
type Scheduler struct {
	repo        store.Repository
	notifier    chat.Notifier
	poster      Poster
	resolver    Resolver
	followUps   FollowUps
	calendar    *Calendar
	clock       clockwork.Clock
	autoResolve time.Duration
	retryDelay  time.Duration
	metrics     Recorder
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]map[Stage]*job
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	switch {
	case opts.Repo == nil:
		return nil, fmt.Errorf("reservation: repository is required")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("reservation: notifier is required")
	case opts.Poster == nil:
		return nil, fmt.Errorf("reservation: poster is required")
	case opts.Resolver == nil:
		return nil, fmt.Errorf("reservation: resolver is required")
	}
	cal := opts.Calendar
	if cal == nil {
		var err error
		if cal, err = NewCalendar(9, time.Local); err != nil {
			return nil, err
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	autoResolve := opts.AutoResolve
	if autoResolve <= 0 {
		autoResolve = defaultAutoResolve
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetry
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:        opts.Repo,
		notifier:    opts.Notifier,
		poster:      opts.Poster,
		resolver:    opts.Resolver,
		followUps:   opts.FollowUps,
		calendar:    cal,
		clock:       clock,
		autoResolve: autoResolve,
		retryDelay:  retryDelay,
		metrics:     opts.Metrics,
		logger:      logging.OrNop(opts.Logger),
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(map[string]map[Stage]*job),
	}, nil
}

// SetFollowUps wires the follow-up scheduler after construction.
func (s *Scheduler) SetFollowUps(f FollowUps) {
	s.followUps = f
}

// Schedule arms the dispatch timer for a persisted reservation question.
// A due time that has already passed dispatches synchronously without
// arming a timer; the returned bool reports that case.
func (s *Scheduler) Schedule(ctx context.Context, q *models.Question) (bool, error) {
	if q.ID == "" {
		return false, fmt.Errorf("reservation: question must be persisted first")
	}
	delay, err := s.calendar.Delay(q.ReservationTime, s.clock.Now())
	if err != nil {
		return false, err
	}
	if delay <= 0 {
		return s.Dispatch(ctx, q.ID)
	}
	s.arm(q.ID, StageDispatch, delay)
	s.logger.Info("reservation armed",
		zap.String("question_id", q.ID),
		zap.String("offset", q.ReservationTime),
		zap.Duration("delay", delay))
	return false, nil
}

// Dispatch posts the question to mentors. Only the first call for a
// question does anything; later calls report false.
func (s *Scheduler) Dispatch(ctx context.Context, id string) (bool, error) {
	logger := s.logger.With(zap.String("question_id", id))

	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reservation: dispatch %s: %w", id, err)
	}
	if q.Status == models.StatusCompleted {
		s.Cancel(id)
		s.observe("skipped")
		return false, nil
	}
	marked, err := s.repo.MarkDispatched(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reservation: dispatch %s: %w", id, err)
	}
	if !marked {
		// Either another dispatch won, or the question left waiting after
		// the read above.
		if cur, err := s.repo.GetQuestion(ctx, id); err == nil && cur.Status != models.StatusWaiting {
			s.Cancel(id)
			s.observe("skipped")
			return false, nil
		}
		s.observe("duplicate")
		return false, nil
	}
	s.Cancel(id)

	if err := s.poster.PostQuestion(ctx, q); err != nil {
		// Undo the stamp so the request is retried instead of dropped.
		if uerr := s.repo.UpdateQuestion(ctx, id, map[string]interface{}{"dispatched_at": nil}); uerr != nil {
			logger.Error("reset dispatch stamp", zap.Error(uerr))
		}
		s.arm(id, StageAutoResolve, s.retryDelay)
		s.observe("post_error")
		logger.Warn("reservation post failed, will retry", zap.Duration("retry_in", s.retryDelay), zap.Error(err))
		return false, fmt.Errorf("reservation: post %s: %w", id, err)
	}

	if _, err := s.notifier.PostToUser(ctx, q.AskerID, chat.Message{Text: dispatchedNotice}); err != nil {
		logger.Warn("dispatch notice failed", zap.Error(err))
	}
	if s.followUps != nil {
		s.followUps.Schedule(id)
	}
	s.observe("dispatched")
	logger.Info("reservation dispatched")
	return true, nil
}

// MarkResolved records that the asker solved the problem themself.
func (s *Scheduler) MarkResolved(ctx context.Context, id, userID string) (*lifecycle.Result, error) {
	res, err := s.resolver.CompleteByAsker(ctx, id, userID, lifecycle.ViaReservation)
	if err == nil {
		s.Cancel(id)
		s.observe("self_resolved")
	}
	return res, err
}

// SendToMentor dispatches immediately at the asker's request.
func (s *Scheduler) SendToMentor(ctx context.Context, id, userID string) (bool, error) {
	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, &lifecycle.Error{Kind: lifecycle.NotFound, Reason: lifecycle.ReasonNotFound, QuestionID: id, Err: err}
		}
		return false, &lifecycle.Error{Kind: lifecycle.DependencyFailure, QuestionID: id, Err: err}
	}
	if q.AskerID != userID {
		return false, &lifecycle.Error{Kind: lifecycle.NotAssigned, Reason: lifecycle.ReasonNotAsker, QuestionID: id}
	}
	if q.Status == models.StatusCompleted {
		return false, &lifecycle.Error{Kind: lifecycle.AlreadyCompleted, Reason: lifecycle.ReasonAlreadyCompleted, QuestionID: id}
	}
	return s.Dispatch(ctx, id)
}

// Cancel stops every timer for id. Cancelling an unknown id is a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs[id] {
		j.timer.Stop()
	}
	delete(s.jobs, id)
}

// Pending returns the armed stages for id.
func (s *Scheduler) Pending(id string) []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Stage
	for _, stage := range []Stage{StageDispatch, StageAutoResolve} {
		if _, ok := s.jobs[id][stage]; ok {
			out = append(out, stage)
		}
	}
	return out
}

// Close stops all timers.
func (s *Scheduler) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stages := range s.jobs {
		for _, j := range stages {
			j.timer.Stop()
		}
		delete(s.jobs, id)
	}
}

// Recover re-arms undispatched reservations after a restart. Reservations
// already overdue are dispatched immediately, skipping the self-resolve
// prompt.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	qs, err := s.repo.ListQuestionsByStatus(ctx, models.StatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("reservation: recover: %w", err)
	}
	now := s.clock.Now()
	n := 0
	for i := range qs {
		q := &qs[i]
		if !q.IsReservation() || q.DispatchedAt != nil {
			continue
		}
		delay, err := s.calendar.Delay(q.ReservationTime, q.CreatedAt)
		if err != nil {
			s.logger.Warn("skip reservation with bad offset", zap.String("question_id", q.ID), zap.Error(err))
			continue
		}
		if remaining := q.CreatedAt.Add(delay).Sub(now); remaining > 0 {
			s.arm(q.ID, StageDispatch, remaining)
		} else if _, err := s.Dispatch(ctx, q.ID); err != nil {
			s.logger.Warn("overdue reservation dispatch failed", zap.String("question_id", q.ID), zap.Error(err))
		}
		n++
	}
	s.logger.Info("reservations recovered", zap.Int("questions", n))
	return n, nil
}

func (s *Scheduler) arm(id string, stage Stage, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := s.jobs[id]
	if stages == nil {
		stages = make(map[Stage]*job)
		s.jobs[id] = stages
	}
	if old := stages[stage]; old != nil {
		old.timer.Stop()
	}
	j := &job{}
	j.timer = s.clock.AfterFunc(delay, func() { s.fire(id, stage, j) })
	stages[stage] = j
}

func (s *Scheduler) take(id string, stage Stage, j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := s.jobs[id]
	if stages == nil || stages[stage] != j {
		return false
	}
	delete(stages, stage)
	if len(stages) == 0 {
		delete(s.jobs, id)
	}
	return true
}

func (s *Scheduler) fire(id string, stage Stage, j *job) {
	if !s.take(id, stage, j) || s.ctx.Err() != nil {
		return
	}
	ctx := s.ctx
	logger := s.logger.With(zap.String("question_id", id), zap.String("stage", string(stage)))

	if stage == StageAutoResolve {
		if _, err := s.Dispatch(ctx, id); err != nil {
			logger.Error("fallback dispatch failed", zap.Error(err))
		}
		return
	}

	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		logger.Error("reservation re-read failed", zap.Error(err))
		if !errors.Is(err, store.ErrNotFound) {
			s.arm(id, StageDispatch, s.retryDelay)
		}
		return
	}
	if q.Status == models.StatusCompleted || q.DispatchedAt != nil {
		s.observe("skipped")
		return
	}
	if !q.AutoResolveCheck {
		if _, err := s.Dispatch(ctx, id); err != nil {
			logger.Error("reservation dispatch failed", zap.Error(err))
		}
		return
	}

	// Arm the fallback first so a failed prompt still ends in a dispatch.
	s.arm(id, StageAutoResolve, s.autoResolve)
	if _, err := s.notifier.PostToUser(ctx, q.AskerID, selfResolvePrompt(q, s.autoResolve)); err != nil {
		logger.Warn("self-resolve prompt failed", zap.Error(err))
	}
	s.observe("prompted")
}

func (s *Scheduler) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveReservation(outcome)
	}
}

const dispatchedNotice = "予約された質問をメンターに送信しました。返答をお待ちください。"

func selfResolvePrompt(q *models.Question, window time.Duration) chat.Message {
	return chat.Message{
		Text:     "予約時間になりました。問題は自力で解決できましたか？",
		Sections: []string{"*質問内容:*\n" + followup.Truncate(q.Content, 100)},
		Context:  fmt.Sprintf("%s以内に回答がない場合は自動的にメンターへ送信されます。", followup.FormatDelay(window)),
		Buttons: []chat.Button{
			{ActionID: ActionResolved, Label: "✅ 解決しました", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: ActionSendToMentor, Label: "❓ まだ質問したいです", Value: q.ID},
		},
	}
}
