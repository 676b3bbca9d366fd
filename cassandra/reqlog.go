package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/blocksql/osql/session"
)

const (
	// DayLayout partitions the archive by calendar day.
	DayLayout = "2006-01-02"

	// Summary archival only needs the least consistency level; the archive aids
	// post-hoc analysis and has no correctness role in the offload protocol.
	reqLogConsistency = gocql.LocalOne
)

// Now lambda to allow unit tests to inject a replayable time.Now.
var Now = time.Now

type reqLog struct{}

// NewReqLog returns a Cassandra-backed session.SummarySink writing one row per
// closed session into the req_log table.
func NewReqLog() session.SummarySink {
	return &reqLog{}
}

// LogSummary archives one session summary.
func (rl *reqLog) LogSummary(ctx context.Context, s session.Summary) error {
	if connection == nil {
		return fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}

	insertStatement := fmt.Sprintf(
		"INSERT INTO %s.req_log (key, day, start_at, node, type, query_id, sql_text, elapsed_ms, retries, tran_rows, ops, terminated, err_code, err_msg) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement,
		s.Key, Now().Format(DayLayout), s.StartAt, s.Node, int(s.Type), s.QueryID, s.SQL,
		s.ElapsedMs, s.Retries, s.TranRows, int64(s.Ops), s.Terminated,
		s.Errstat.Code, s.Errstat.Msg).WithContext(ctx).Consistency(reqLogConsistency)
	return qry.Exec()
}
