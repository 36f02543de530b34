// Package mention picks which mentors to ping for a new question and posts
// it, falling back to the default mentor channel when the requested channel
// is unreachable.
package mention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/cache"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

const defaultMaxMentions = 10

// NoMentorsHeader is used when nobody is registered.
const NoMentorsHeader = "🔔 新しい質問が投稿されました（登録メンターなし）"

// Recorder observes channel fallbacks.
type Recorder interface {
	ObserveChannelFallback()
}

// Opts holds parameters for creating a Composer.
type Opts struct {
	Repo           store.Repository
	Notifier       chat.Notifier
	Roster         *cache.Roster // optional
	DefaultChannel string
	MaxMentions    int
	Metrics        Recorder
	Logger         *zap.Logger
}

// Composer builds mention headers and routes question posts.
type Composer struct {
	repo           store.Repository
	notifier       chat.Notifier
	roster         *cache.Roster
	defaultChannel string
	maxMentions    int
	metrics        Recorder
	logger         *zap.Logger
}

// Composition is the recipient list and header for one question.
type Composition struct {
	Recipients []string
	Header     string
}

// New creates a Composer.
func New(opts Opts) (*Composer, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("mention: repository is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("mention: notifier is required")
	}
	if opts.DefaultChannel == "" {
		return nil, fmt.Errorf("mention: default channel is required")
	}
	max := opts.MaxMentions
	if max <= 0 {
		max = defaultMaxMentions
	}
	roster := opts.Roster
	if roster == nil {
		roster = cache.NewRoster(cache.RosterOpts{})
	}
	return &Composer{
		repo:           opts.Repo,
		notifier:       opts.Notifier,
		roster:         roster,
		defaultChannel: opts.DefaultChannel,
		maxMentions:    max,
		metrics:        opts.Metrics,
		logger:         logging.OrNop(opts.Logger),
	}, nil
}

// DefaultChannel returns the fallback channel.
func (c *Composer) DefaultChannel() string { return c.defaultChannel }

// Compose lists registered mentors, available ones first, capped at the
// configured maximum, and renders the header.
func (c *Composer) Compose(ctx context.Context, category string) (Composition, error) {
	mentors, err := c.roster.Load(ctx, c.repo.ListMentors)
	if err != nil {
		return Composition{}, fmt.Errorf("mention: list mentors: %w", err)
	}
	ids := Rank(mentors, c.maxMentions)
	return Composition{Recipients: ids, Header: Header(category, ids)}, nil
}

// Rank orders mentors by availability, then registration time, and keeps
// at most max of them.
func Rank(mentors []models.Mentor, max int) []string {
	sorted := make([]models.Mentor, len(mentors))
	copy(sorted, mentors)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := availabilityRank(sorted[i].Availability), availabilityRank(sorted[j].Availability)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].RegisteredAt.Before(sorted[j].RegisteredAt)
	})
	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	ids := make([]string, 0, len(sorted))
	for _, m := range sorted {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Header renders the mention line for a category.
func Header(category string, ids []string) string {
	if len(ids) == 0 {
		return NoMentorsHeader
	}
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, fmt.Sprintf("<@%s>", id))
	}
	return fmt.Sprintf("🔔 *%s* の質問です\n%s", category, strings.Join(mentions, " "))
}

func availabilityRank(a string) int {
	switch a {
	case models.AvailabilityAvailable:
		return 0
	case models.AvailabilityBusy:
		return 1
	}
	return 2
}

// Post sends msg to target, or to the default channel when target is empty
// or unreachable. It returns the channel actually used and the message ref.
func (c *Composer) Post(ctx context.Context, target string, msg chat.Message) (string, string, error) {
	if target == "" {
		target = c.defaultChannel
	}
	ref, err := c.notifier.PostToChannel(ctx, target, msg)
	if err == nil {
		return target, ref, nil
	}
	if !errors.Is(err, chat.ErrChannelNotFound) || target == c.defaultChannel {
		return "", "", fmt.Errorf("mention: post to %s: %w", target, err)
	}

	c.logger.Warn("channel unreachable, using default",
		zap.String("channel", target),
		zap.String("default", c.defaultChannel),
		zap.Error(err))
	if c.metrics != nil {
		c.metrics.ObserveChannelFallback()
	}
	ref, err = c.notifier.PostToChannel(ctx, c.defaultChannel, msg)
	if err != nil {
		return "", "", fmt.Errorf("mention: post to default %s: %w", c.defaultChannel, err)
	}
	return c.defaultChannel, ref, nil
}
