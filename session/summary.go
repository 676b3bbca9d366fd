package session

import (
	"context"
	"time"

	"github.com/blocksql/osql"
)

// Summary is the observability snapshot of one session: elapsed time, retry
// count, delivery progress and terminal status. Write-only from the session
// core's perspective; consumed by the request logger and the admin surface.
type Summary struct {
	Key        string       `json:"key"`
	Rqid       uint64       `json:"rqid"`
	Type       ReqType      `json:"type"`
	SQL        string       `json:"sql,omitempty"`
	Node       string       `json:"node,omitempty"`
	QueryID    int32        `json:"query_id"`
	StartAt    time.Time    `json:"start_at"`
	ElapsedMs  int64        `json:"elapsed_ms"`
	Retries    int          `json:"retries"`
	TranRows   int          `json:"tran_rows"`
	Ops        uint64       `json:"ops"`
	Dispatched bool         `json:"dispatched"`
	Terminated bool         `json:"terminated"`
	Completed  bool         `json:"completed"`
	Errstat    osql.Errstat `json:"errstat"`
}

// Map renders the summary as a flat map, the shape sweep predicates evaluate
// against.
func (s Summary) Map() map[string]any {
	return map[string]any{
		"key":        s.Key,
		"rqid":       s.Rqid,
		"type":       int(s.Type),
		"sql":        s.SQL,
		"node":       s.Node,
		"queryId":    s.QueryID,
		"elapsedMs":  s.ElapsedMs,
		"retries":    s.Retries,
		"tranRows":   s.TranRows,
		"ops":        s.Ops,
		"dispatched": s.Dispatched,
		"terminated": s.Terminated,
		"completed":  s.Completed,
	}
}

// SummarySink receives session summaries for observability. Implementations:
// reqlog (slog) and cassandra (archive table).
type SummarySink interface {
	LogSummary(ctx context.Context, s Summary) error
}
