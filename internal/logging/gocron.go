package logging

import (
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type gocronLogger struct {
	s *zap.SugaredLogger
}

// Gocron adapts l to gocron's logger interface.
func Gocron(l *zap.Logger) gocron.Logger {
	return &gocronLogger{s: OrNop(l).Named("gocron").Sugar()}
}

func (g *gocronLogger) Debug(msg string, args ...any) { g.s.Debugw(msg, args...) }
func (g *gocronLogger) Info(msg string, args ...any)  { g.s.Infow(msg, args...) }
func (g *gocronLogger) Warn(msg string, args ...any)  { g.s.Warnw(msg, args...) }
func (g *gocronLogger) Error(msg string, args ...any) { g.s.Errorw(msg, args...) }
