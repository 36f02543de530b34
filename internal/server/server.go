// Package server exposes health, readiness, metrics and a read-only question
// API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/metrics"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Questions is the read side of the repository the API needs.
type Questions interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestionsByStatus(ctx context.Context, statuses ...string) ([]models.Question, error)
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Questions Questions
	Ready     func(ctx context.Context) error // readiness probe, usually a db ping
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Port      int
	Now       func() time.Time
}

type server struct {
	questions Questions
	ready     func(ctx context.Context) error
	started   time.Time
	now       func() time.Time
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Questions == nil {
		return nil, fmt.Errorf("server: questions repository is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &server{questions: opts.Questions, ready: opts.Ready, started: now(), now: now}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(opts.Logger), opts.Metrics.GinMiddleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", s.handleReady)
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := router.Group("/api")
	api.GET("/questions", s.handleListQuestions)
	api.GET("/questions/:id", s.handleGetQuestion)
	return router, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.OrNop(opts.Logger).Info("http server listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": s.now().Sub(s.started).Round(time.Second).String(),
	})
}

func (s *server) handleReady(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// questionView is the JSON shape of a question.
type questionView struct {
	ID           string     `json:"id"`
	Asker        string     `json:"asker"`
	Team         string     `json:"team,omitempty"`
	Category     string     `json:"category"`
	Urgency      string     `json:"urgency,omitempty"`
	Status       string     `json:"status"`
	Mode         string     `json:"mode"`
	Mentors      []string   `json:"mentors"`
	Channel      string     `json:"channel,omitempty"`
	Reservation  string     `json:"reservation,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Content      string     `json:"content,omitempty"`
}

func viewOf(q *models.Question, withContent bool) questionView {
	v := questionView{
		ID:           q.ID,
		Asker:        q.AskerID,
		Team:         q.TeamName,
		Category:     q.Category,
		Urgency:      q.Urgency,
		Status:       q.Status,
		Mode:         q.ConsultationMode,
		Mentors:      q.MentorIDs(),
		Channel:      q.ChannelRef,
		Reservation:  q.ReservationTime,
		DispatchedAt: q.DispatchedAt,
		ResolvedBy:   q.ResolvedBy,
		ResolvedAt:   q.ResolvedAt,
		CreatedAt:    q.CreatedAt,
	}
	if withContent {
		v.Content = q.Content
	}
	return v
}

var openStatuses = []string{models.StatusWaiting, models.StatusInProgress, models.StatusPaused}

// handleListQuestions lists questions filtered by ?status=a,b. Without a
// filter only unresolved questions are returned.
func (s *server) handleListQuestions(c *gin.Context) {
	statuses := openStatuses
	if raw := c.Query("status"); raw != "" {
		statuses = nil
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			switch st {
			case models.StatusWaiting, models.StatusInProgress, models.StatusPaused, models.StatusCompleted:
				statuses = append(statuses, st)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", st)})
				return
			}
		}
	}

	qs, err := s.questions.ListQuestionsByStatus(c.Request.Context(), statuses...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]questionView, 0, len(qs))
	for i := range qs {
		out = append(out, viewOf(&qs[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"questions": out, "count": len(out)})
}

func (s *server) handleGetQuestion(c *gin.Context) {
	q, err := s.questions.GetQuestion(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(q, true))
}
