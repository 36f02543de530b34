// Package followup checks in with askers a fixed time after they post a
// question, and escalates to the assigned mentors when a question stays
// open for long.
package followup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Stage identifies one of the two follow-up checks.
type Stage string

// Follow-up stages.
const (
	StageShort Stage = "short"
	StageLong  Stage = "long"
)

// Action ids of the follow-up prompt buttons.
const (
	ActionResolved   = "followup_resolved"
	ActionUnresolved = "followup_unresolved"
	ActionDetails    = "check_details"
)

const (
	defaultShort = 30 * time.Minute
	defaultLong  = 2 * time.Hour
	previewRunes = 100
)

// Resolver completes a question on the asker's behalf.
type Resolver interface {
	CompleteByAsker(ctx context.Context, id, actorID, via string) (*lifecycle.Result, error)
}

// Recorder observes follow-up firings.
type Recorder interface {
	ObserveFollowUp(stage, outcome string)
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Repo     store.Repository
	Notifier chat.Notifier
	Resolver Resolver
	Clock    clockwork.Clock // defaults to the real clock
	Short    time.Duration   // defaults to 30m
	Long     time.Duration   // defaults to 2h
	Metrics  Recorder
	Logger   *zap.Logger
}

type job struct {
	timer clockwork.Timer
}

// Scheduler owns the in-memory follow-up timers. Timers are lost when the
// process exits; Recover re-arms them from the repository on start.
type Scheduler struct {
	repo     store.Repository
	notifier chat.Notifier
	resolver Resolver
	clock    clockwork.Clock
	delays   map[Stage]time.Duration
	metrics  Recorder
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]map[Stage]*job
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("followup: repository is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("followup: notifier is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("followup: resolver is required")
	}
	short, long := opts.Short, opts.Long
	if short <= 0 {
		short = defaultShort
	}
	if long <= 0 {
		long = defaultLong
	}
	if long <= short {
		return nil, fmt.Errorf("followup: long delay %s must exceed short delay %s", long, short)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:     opts.Repo,
		notifier: opts.Notifier,
		resolver: opts.Resolver,
		clock:    clock,
		delays:   map[Stage]time.Duration{StageShort: short, StageLong: long},
		metrics:  opts.Metrics,
		logger:   logging.OrNop(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]map[Stage]*job),
	}, nil
}

// Schedule arms both stages for a newly posted question. Re-scheduling an
// id replaces its existing timers.
func (s *Scheduler) Schedule(questionID string) {
	for _, stage := range []Stage{StageShort, StageLong} {
		s.arm(questionID, stage, s.delays[stage])
	}
	s.logger.Debug("follow-ups armed", zap.String("question_id", questionID))
}

// Cancel stops both stages for questionID. Cancelling an id with no
// pending job is a no-op.
func (s *Scheduler) Cancel(questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs[questionID] {
		j.timer.Stop()
	}
	delete(s.jobs, questionID)
}

// Pending returns the armed stages for questionID.
func (s *Scheduler) Pending(questionID string) []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Stage
	for stage := range s.jobs[questionID] {
		out = append(out, stage)
	}
	sort.Slice(out, func(i, j int) bool { return s.delays[out[i]] < s.delays[out[j]] })
	return out
}

// Close stops every timer and aborts in-flight firings.
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

// Recover re-arms the stages that are still due for waiting immediate-mode
// questions, measured from their creation time. Questions a mentor has
// claimed at some point are skipped, since the claim cancelled their
// follow-ups. It returns the number of questions re-armed.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	qs, err := s.repo.ListQuestionsByStatus(ctx, models.StatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("followup: recover: %w", err)
	}
	now := s.clock.Now()
	n := 0
	for _, q := range qs {
		if q.IsReservation() && q.DispatchedAt == nil {
			continue
		}
		start := q.CreatedAt
		if q.DispatchedAt != nil {
			start = *q.DispatchedAt
		}
		var due []Stage
		for _, stage := range []Stage{StageShort, StageLong} {
			if start.Add(s.delays[stage]).After(now) {
				due = append(due, stage)
			}
		}
		if len(due) == 0 {
			continue
		}
		full, err := s.repo.GetQuestion(ctx, q.ID)
		if err != nil {
			s.logger.Warn("skip follow-up recovery", zap.String("question_id", q.ID), zap.Error(err))
			continue
		}
		if everClaimed(full) {
			continue
		}
		for _, stage := range due {
			s.arm(q.ID, stage, start.Add(s.delays[stage]).Sub(now))
		}
		n++
	}
	s.logger.Info("follow-ups recovered", zap.Int("questions", n))
	return n, nil
}

func everClaimed(q *models.Question) bool {
	for _, h := range q.History {
		if h.Status == models.StatusInProgress {
			return true
		}
	}
	return false
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

// take removes j from the table if it is still the live job for (id, stage).
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
	if !s.take(id, stage, j) {
		return
	}
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	logger := s.logger.With(zap.String("question_id", id), zap.String("stage", string(stage)))

	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Cancel(id)
			s.observe(stage, "missing")
			return
		}
		logger.Error("follow-up re-read failed", zap.Error(err))
		s.observe(stage, "error")
		return
	}
	if q.Status == models.StatusCompleted {
		s.Cancel(id)
		s.observe(stage, "skipped")
		return
	}

	var errs []error
	if _, err := s.notifier.PostToUser(ctx, q.AskerID, askerPrompt(q, s.delays[stage])); err != nil {
		errs = append(errs, err)
	}
	if stage == StageLong {
		for _, m := range q.MentorIDs() {
			if _, err := s.notifier.PostToUser(ctx, m, escalation(q, s.delays[stage])); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("follow-up notification failed", zap.Error(err))
		s.observe(stage, "notify_error")
		return
	}
	logger.Info("follow-up sent", zap.Int("mentors", len(q.Mentors)))
	s.observe(stage, "sent")
}

// MarkResolved completes the question from the follow-up prompt.
func (s *Scheduler) MarkResolved(ctx context.Context, questionID, userID string) (*lifecycle.Result, error) {
	res, err := s.resolver.CompleteByAsker(ctx, questionID, userID, lifecycle.ViaFollowUp)
	s.Cancel(questionID)
	return res, err
}

// MarkUnresolved acknowledges the asker and nudges the assigned mentors.
// The question status is not changed.
func (s *Scheduler) MarkUnresolved(ctx context.Context, questionID, userID string) error {
	q, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &lifecycle.Error{Kind: lifecycle.NotFound, Reason: lifecycle.ReasonNotFound, QuestionID: questionID, Err: err}
		}
		return &lifecycle.Error{Kind: lifecycle.DependencyFailure, QuestionID: questionID, Err: err}
	}
	if q.AskerID != userID {
		return &lifecycle.Error{Kind: lifecycle.NotAssigned, Reason: lifecycle.ReasonNotAsker, QuestionID: questionID}
	}
	if q.Status == models.StatusCompleted {
		return &lifecycle.Error{Kind: lifecycle.AlreadyCompleted, Reason: lifecycle.ReasonAlreadyCompleted, QuestionID: questionID}
	}

	var errs []error
	if _, err := s.notifier.PostToUser(ctx, q.AskerID, chat.Message{Text: unresolvedAck}); err != nil {
		errs = append(errs, err)
	}
	for _, m := range q.MentorIDs() {
		if _, err := s.notifier.PostToUser(ctx, m, reengagement(q)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &lifecycle.Error{Kind: lifecycle.DependencyFailure, QuestionID: questionID, Err: err}
	}
	return nil
}

func (s *Scheduler) observe(stage Stage, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveFollowUp(string(stage), outcome)
	}
}
