package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/cache"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/config"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/digest"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/followup"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/mention"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/metrics"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/server"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

const gaugeRefresh = 30 * time.Second

// Listener is a chat platform connection that can both send and receive.
type Listener interface {
	chat.Notifier
	Connect(ctx context.Context) error
	Listen(ctx context.Context, h chat.Handler) error
	Close() error
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Config   *config.Config
	DB       *gorm.DB
	Listener Listener
	Metrics  *metrics.Metrics // defaults to metrics.New()
	Clock    clockwork.Clock  // defaults to the real clock
	Logger   *zap.Logger
}

// Daemon is the long-running bot process.
type Daemon struct {
	cfg      *config.Config
	db       *gorm.DB
	listener Listener
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	logger   *zap.Logger

	// ready is closed once the handler is listening; used by tests.
	ready   chan struct{}
	handler *Handler
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("bot: config is required")
	case opts.DB == nil:
		return nil, fmt.Errorf("bot: db is required")
	case opts.Listener == nil:
		return nil, fmt.Errorf("bot: listener is required")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Daemon{
		cfg:      opts.Config,
		db:       opts.DB,
		listener: opts.Listener,
		metrics:  m,
		clock:    clock,
		logger:   logging.OrNop(opts.Logger),
		ready:    make(chan struct{}),
	}, nil
}

// Run connects to the chat platform, builds every subsystem, re-arms timers
// lost by a previous process and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.cfg
	d.logger.Info("mentor bot connecting")
	if err := d.listener.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}
	defer func() {
		if err := d.listener.Close(); err != nil {
			d.logger.Warn("close listener", zap.Error(err))
		}
	}()

	policy := retry.RepositoryPolicy(cfg.RetryTimeout())
	policy.Attempts = cfg.Retry.RepoAttempts
	repo, err := store.New(store.Opts{DB: d.db, Retry: policy, Now: d.clock.Now})
	if err != nil {
		return fmt.Errorf("bot: build store: %w", err)
	}

	var backend cache.Backend
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		d.logger.Warn("roster cache disabled", zap.Error(err))
	} else if client != nil {
		defer client.Close()
		backend = cache.NewRedisBackend(client)
	}
	roster := cache.NewRoster(cache.RosterOpts{Backend: backend, TTL: cfg.CacheTTL(), Metrics: d.metrics, Logger: d.logger})

	composer, err := mention.New(mention.Opts{
		Repo:           repo,
		Notifier:       d.listener,
		Roster:         roster,
		DefaultChannel: cfg.Slack.MentorChannel,
		MaxMentions:    cfg.Mention.MaxMentions,
		Metrics:        d.metrics,
		Logger:         d.logger.Named("mention"),
	})
	if err != nil {
		return fmt.Errorf("bot: build composer: %w", err)
	}

	engine, err := lifecycle.New(lifecycle.Opts{
		Repo:     repo,
		Notifier: d.listener,
		Metrics:  d.metrics,
		Logger:   d.logger.Named("lifecycle"),
		Now:      d.clock.Now,
	})
	if err != nil {
		return fmt.Errorf("bot: build lifecycle engine: %w", err)
	}

	short, long := cfg.FollowUpDelays()
	followUps, err := followup.New(followup.Opts{
		Repo:     repo,
		Notifier: d.listener,
		Resolver: engine,
		Clock:    d.clock,
		Short:    short,
		Long:     long,
		Metrics:  d.metrics,
		Logger:   d.logger.Named("followup"),
	})
	if err != nil {
		return fmt.Errorf("bot: build follow-up scheduler: %w", err)
	}
	defer followUps.Close()
	engine.SetFollowUps(followUps)

	publisher, err := NewPublisher(PublisherOpts{Repo: repo, Composer: composer, Notifier: d.listener, Logger: d.logger.Named("publish")})
	if err != nil {
		return err
	}

	calendar, err := reservation.NewCalendar(cfg.Reservation.MorningHour, cfg.Location())
	if err != nil {
		return fmt.Errorf("bot: build calendar: %w", err)
	}
	reservations, err := reservation.New(reservation.Opts{
		Repo:        repo,
		Notifier:    d.listener,
		Poster:      publisher,
		Resolver:    engine,
		FollowUps:   followUps,
		Calendar:    calendar,
		Clock:       d.clock,
		AutoResolve: cfg.AutoResolveDelay(),
		Metrics:     d.metrics,
		Logger:      d.logger.Named("reservation"),
	})
	if err != nil {
		return fmt.Errorf("bot: build reservation scheduler: %w", err)
	}
	defer reservations.Close()

	handler, err := New(Opts{
		Repo:         repo,
		Notifier:     d.listener,
		Lifecycle:    engine,
		FollowUps:    followUps,
		Reservations: reservations,
		Poster:       publisher,
		Roster:       roster,
		MorningHour:  cfg.Reservation.MorningHour,
		Clock:        d.clock,
		Logger:       d.logger.Named("handler"),
	})
	if err != nil {
		return err
	}
	defer handler.Close()
	d.handler = handler

	if n, err := followUps.Recover(ctx); err != nil {
		d.logger.Warn("follow-up recovery failed", zap.Error(err))
	} else {
		d.logger.Info("follow-ups recovered", zap.Int("questions", n))
	}
	if n, err := reservations.Recover(ctx); err != nil {
		d.logger.Warn("reservation recovery failed", zap.Error(err))
	} else {
		d.logger.Info("reservations recovered", zap.Int("questions", n))
	}

	cron := ""
	if cfg.Digest.Enabled {
		cron = cfg.Digest.Cron
	}
	dg, err := digest.New(digest.Opts{
		Questions: repo,
		Notifier:  d.listener,
		Channel:   cfg.Slack.MentorChannel,
		Cron:      cron,
		Location:  cfg.Location(),
		Gauges:    d.metrics,
		Refresh:   gaugeRefresh,
		Logger:    d.logger.Named("digest"),
	})
	if err != nil {
		return fmt.Errorf("bot: build digest: %w", err)
	}
	if err := dg.Start(); err != nil {
		return fmt.Errorf("bot: start digest: %w", err)
	}
	defer func() {
		if err := dg.Stop(); err != nil {
			d.logger.Warn("stop digest", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.listener.Listen(gctx, handler)
	})
	g.Go(func() error {
		return server.Start(gctx, server.Opts{
			Questions: repo,
			Ready:     func(context.Context) error { return db.Ping(d.db) },
			Metrics:   d.metrics,
			Logger:    d.logger.Named("http"),
			Port:      cfg.HTTP.Port,
		})
	})

	d.logger.Info("mentor bot online",
		zap.String("mentor_channel", cfg.Slack.MentorChannel),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("roster_cache", roster.Enabled()),
		zap.Bool("digest", cfg.Digest.Enabled))
	close(d.ready)

	err = g.Wait()
	d.logger.Info("mentor bot shutting down")
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}
