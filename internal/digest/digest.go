// Package digest runs the bot's recurring jobs: the daily unresolved-question
// summary for mentors and the periodic refresh of question gauges.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/followup"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

const (
	digestJob  = "unresolved-digest"
	gaugeJob   = "question-gauges"
	maxEntries = 20
	jobTimeout = time.Minute
)

var (
	openStatuses = []string{models.StatusWaiting, models.StatusInProgress, models.StatusPaused}
	allStatuses  = append(append([]string{}, openStatuses...), models.StatusCompleted)
)

// Questions lists questions by status.
type Questions interface {
	ListQuestionsByStatus(ctx context.Context, statuses ...string) ([]models.Question, error)
}

// Gauges receives per-status question counts.
type Gauges interface {
	SetQuestionCounts(statuses []string, counts map[string]int)
}

// Opts holds parameters for creating a Digest.
type Opts struct {
	Questions Questions
	Notifier  chat.Notifier
	Channel   string
	Cron      string // standard 5-field expression, empty disables the digest job
	Location  *time.Location
	Gauges    Gauges // optional
	Refresh   time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// Digest owns a gocron scheduler for the recurring jobs.
type Digest struct {
	questions Questions
	notifier  chat.Notifier
	channel   string
	cron      string
	loc       *time.Location
	gauges    Gauges
	refresh   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	scheduler gocron.Scheduler
}

// New creates a Digest. Start must be called to schedule the jobs.
func New(opts Opts) (*Digest, error) {
	if opts.Questions == nil {
		return nil, fmt.Errorf("digest: questions repository is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("digest: notifier is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("digest: channel is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Digest{
		questions: opts.Questions,
		notifier:  opts.Notifier,
		channel:   opts.Channel,
		cron:      opts.Cron,
		loc:       loc,
		gauges:    opts.Gauges,
		refresh:   refresh,
		logger:    logging.OrNop(opts.Logger),
		now:       now,
	}, nil
}

// Start creates the scheduler, registers the jobs and starts it.
func (d *Digest) Start() error {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(d.loc),
		gocron.WithLogger(logging.Gocron(d.logger)),
	)
	if err != nil {
		return fmt.Errorf("digest: create scheduler: %w", err)
	}

	if d.cron != "" {
		job, err := s.NewJob(
			gocron.CronJob(d.cron, false),
			gocron.NewTask(d.runDigest),
			gocron.WithName(digestJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("digest: schedule %s: %w", digestJob, err)
		}
		if next, err := job.NextRun(); err == nil {
			d.logger.Info("digest scheduled", zap.String("cron", d.cron), zap.Time("next_run", next))
		}
	}

	if d.gauges != nil {
		if _, err := s.NewJob(
			gocron.DurationJob(d.refresh),
			gocron.NewTask(d.runRefresh),
			gocron.WithName(gaugeJob),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			s.Shutdown()
			return fmt.Errorf("digest: schedule %s: %w", gaugeJob, err)
		}
	}

	s.Start()
	d.scheduler = s
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (d *Digest) Stop() error {
	if d.scheduler == nil {
		return nil
	}
	if err := d.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("digest: shutdown: %w", err)
	}
	d.scheduler = nil
	return nil
}

func (d *Digest) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := d.Send(ctx)
	if err != nil {
		d.logger.Error("digest failed", zap.Error(err))
		return
	}
	d.logger.Info("digest sent", zap.Int("unresolved", n))
}

func (d *Digest) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("gauge refresh failed", zap.Error(err))
	}
}

// Send posts the unresolved-question summary to the mentor channel and
// returns how many questions it covered. Nothing is posted when every
// question is resolved.
func (d *Digest) Send(ctx context.Context) (int, error) {
	qs, err := d.questions.ListQuestionsByStatus(ctx, openStatuses...)
	if err != nil {
		return 0, fmt.Errorf("digest: list: %w", err)
	}
	if len(qs) == 0 {
		return 0, nil
	}
	if _, err := d.notifier.PostToChannel(ctx, d.channel, Render(qs, d.now())); err != nil {
		return 0, fmt.Errorf("digest: post: %w", err)
	}
	return len(qs), nil
}

// Refresh recounts questions per status and updates the gauges.
func (d *Digest) Refresh(ctx context.Context) error {
	if d.gauges == nil {
		return nil
	}
	qs, err := d.questions.ListQuestionsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("digest: count: %w", err)
	}
	counts := make(map[string]int, len(allStatuses))
	for _, q := range qs {
		counts[q.Status]++
	}
	d.gauges.SetQuestionCounts(allStatuses, counts)
	return nil
}

// Render builds the digest message. Questions are listed oldest first and
// the list is cut at a fixed length.
func Render(qs []models.Question, now time.Time) chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *未解決の質問 (%d件)*", len(qs))
	for i, q := range qs {
		if i == maxEntries {
			fmt.Fprintf(&b, "\n…ほか%d件", len(qs)-maxEntries)
			break
		}
		fmt.Fprintf(&b, "\n%s [%s] *%s* %s (<@%s>, %s経過)",
			lifecycle.StatusEmoji(q.Status),
			lifecycle.StatusLabel(q.Status),
			q.Category,
			followup.Truncate(q.Content, 40),
			q.AskerID,
			followup.FormatDelay(now.Sub(q.CreatedAt).Truncate(time.Minute)),
		)
		if ids := q.MentorIDs(); len(ids) > 0 {
			fmt.Fprintf(&b, " 担当: %s", lifecycle.Mentions(ids))
		}
	}
	return chat.Message{
		Text:    b.String(),
		Context: "対応可能なメンターはスレッドから対応をお願いします",
	}
}
