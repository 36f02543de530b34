package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/mention"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

const fallbackHeader = "🔔 新しい質問が投稿されました"

// Composer picks who to mention and where a question lands.
type Composer interface {
	Compose(ctx context.Context, category string) (mention.Composition, error)
	Post(ctx context.Context, target string, msg chat.Message) (string, string, error)
	DefaultChannel() string
}

// PublisherOpts holds parameters for creating a Publisher.
type PublisherOpts struct {
	Repo     store.Repository
	Composer Composer
	Notifier chat.Notifier
	Logger   *zap.Logger
}

// Publisher posts persisted questions to the mentor channel. It is shared by
// immediate submissions and reservation dispatch.
type Publisher struct {
	repo     store.Repository
	composer Composer
	notifier chat.Notifier
	logger   *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(opts PublisherOpts) (*Publisher, error) {
	switch {
	case opts.Repo == nil:
		return nil, fmt.Errorf("bot: repository is required")
	case opts.Composer == nil:
		return nil, fmt.Errorf("bot: composer is required")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("bot: notifier is required")
	}
	return &Publisher{
		repo:     opts.Repo,
		composer: opts.Composer,
		notifier: opts.Notifier,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// PostQuestion posts q with mentor mentions and records where it landed.
// Immediate questions go to the channel the asker opened the form from;
// reservations always go to the mentor channel. When the effective channel is
// not the mentor channel, the mentor channel also gets a short notice.
func (p *Publisher) PostQuestion(ctx context.Context, q *models.Question) error {
	header := fallbackHeader
	comp, err := p.composer.Compose(ctx, q.Category)
	if err != nil {
		p.logger.Warn("compose mentions failed", zap.String("question_id", q.ID), zap.Error(err))
	} else {
		header = comp.Header
	}

	target := q.SourceChannelRef
	if q.IsReservation() {
		target = ""
	}
	channel, ref, err := p.composer.Post(ctx, target, questionMessage(q, header))
	if err != nil {
		return fmt.Errorf("bot: post question %s: %w", q.ID, err)
	}
	q.ChannelRef, q.MessageRef = channel, ref

	// The post is already visible; a failed write here must not make the
	// caller post it again.
	if err := p.repo.UpdateQuestion(ctx, q.ID, map[string]interface{}{
		"channel_ref": channel,
		"message_ref": ref,
	}); err != nil {
		p.logger.Error("record message ref failed", zap.String("question_id", q.ID), zap.String("channel", channel), zap.Error(err))
	}

	if def := p.composer.DefaultChannel(); channel != def {
		if _, err := p.notifier.PostToChannel(ctx, def, channelNotice(q, channel, header)); err != nil {
			p.logger.Warn("mentor channel notice failed", zap.String("question_id", q.ID), zap.Error(err))
		}
	}
	p.logger.Info("question posted", zap.String("question_id", q.ID), zap.String("channel", channel), zap.String("ref", ref))
	return nil
}
