// Package audit is the logging collaborator of the security core. Components
// only call Sink.Log; persistence failures are reported to the operational
// logger and never reach the caller.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
	"github.com/google/uuid"
)

// Sink accepts audit messages at level 0 (debug) to 4 (critical).
type Sink interface {
	Log(ctx context.Context, message string, level int)
}

// ClampLevel maps anything outside 0..4 to LevelInfo.
func ClampLevel(level int) int {
	if level < models.LevelDebug || level > models.LevelCritical {
		return models.LevelInfo
	}
	return level
}

// DBSink persists entries into audit_logs on one channel and mirrors them to
// the operational logger.
type DBSink struct {
	repo    auditlogs.Repository
	channel models.AuditChannel
	log     logging.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*DBSink)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *DBSink) { s.now = now }
}

func NewDBSink(repo auditlogs.Repository, channel models.AuditChannel, log logging.Logger, opts ...Option) *DBSink {
	s := &DBSink{
		repo:    repo,
		channel: channel,
		log:     log.With("audit_channel", string(channel)),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *DBSink) Log(ctx context.Context, message string, level int) {
	if clamped := ClampLevel(level); clamped != level {
		s.log.Warn(ctx, "invalid audit level, falling back", "level", level, "fallback", clamped)
		level = clamped
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "audit sink panicked", "panic", fmt.Sprint(r))
		}
	}()

	entry := s.entry(ctx, message, level)
	s.mirror(ctx, entry)

	if err := s.repo.Insert(ctx, entry); err != nil {
		s.log.Error(ctx, "could not persist audit entry", "level", level, "error", err)
	}
}

func (s *DBSink) entry(ctx context.Context, message string, level int) *models.AuditEntry {
	client := reqctx.ClientFrom(ctx)

	name, role := "Anonymous", "System"
	if p := reqctx.Principal(ctx); p != nil {
		name, role = p.Name, p.Role.DisplayName()
	}

	return &models.AuditEntry{
		ID:        s.newID(),
		Channel:   s.channel,
		Level:     level,
		Message:   message,
		ClientIP:  client.IP,
		ClientOS:  client.OS,
		UserName:  name,
		UserRole:  role,
		CreatedAt: s.now().UTC(),
	}
}

func (s *DBSink) mirror(ctx context.Context, e *models.AuditEntry) {
	args := []any{"level", e.Level, "client_ip", e.ClientIP, "user", e.UserName, "role", e.UserRole}
	switch e.Level {
	case models.LevelDebug:
		s.log.Debug(ctx, e.Message, args...)
	case models.LevelInfo:
		s.log.Info(ctx, e.Message, args...)
	case models.LevelWarning:
		s.log.Warn(ctx, e.Message, args...)
	default:
		s.log.Error(ctx, e.Message, args...)
	}
}

// Channels bundles the two sinks the server writes to.
type Channels struct {
	Security Sink
	Activity Sink
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(context.Context, string, int) {}
