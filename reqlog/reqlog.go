// Package reqlog provides the default session.SummarySink, reporting closed
// sessions through the engine's structured logger.
package reqlog

import (
	"context"
	"log/slog"

	"github.com/blocksql/osql/session"
)

// Logger is a session.SummarySink writing one structured log record per closed
// session.
type Logger struct {
	log *slog.Logger
}

// New returns a Logger on l, or on the default slog logger when l is nil.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

// LogSummary reports one session summary. Failed transactions log at Warn,
// everything else at Info.
func (rl *Logger) LogSummary(ctx context.Context, s session.Summary) error {
	attrs := []any{
		"rqid", s.Key,
		"node", s.Node,
		"elapsedMs", s.ElapsedMs,
		"retries", s.Retries,
		"tranRows", s.TranRows,
		"ops", s.Ops,
		"terminated", s.Terminated,
	}
	if s.Completed && !s.Errstat.IsOK() {
		attrs = append(attrs, "errCode", s.Errstat.Code, "errMsg", s.Errstat.Msg)
		rl.log.WarnContext(ctx, "osql session failed", attrs...)
		return nil
	}
	rl.log.InfoContext(ctx, "osql session done", attrs...)
	return nil
}
