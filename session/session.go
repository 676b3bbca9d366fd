// Package session implements the offload session state machine and its
// process-wide repository. A session is created by the SQL engine thread,
// receives log operations from the receiver thread, is dispatched to the block
// processor pool, and completes exactly once; destruction waits for the
// reference count to reach zero and the session to leave the repository.
package session

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blocksql/osql"
)

// Now lambda to allow unit tests to inject a replayable time.Now.
var Now = time.Now

// ReqType is the session's transport/version tag.
type ReqType int

const (
	ReqBlock ReqType = iota + 1
	ReqSock
	ReqRecom
	ReqSnapIsol
	ReqSerial
)

// TerminateOutcome is the result of TryTerminate.
type TerminateOutcome int

const (
	// Terminated means the session transitioned to the terminated state and is
	// safe to reclaim.
	Terminated TerminateOutcome = iota
	// TerminateSkipped means the session had already completed or progressed past
	// the point where termination is meaningful. Callers treat it as a no-op.
	TerminateSkipped
)

// completion guards only the completion result behind its own mutex. It is a
// separate type exposing nothing but its own locking, so Session code cannot
// accidentally nest it with the primary lock in either order; readiness is
// mirrored in an atomic flag so the primary condition-wait loop never touches
// the completion mutex.
type completion struct {
	done atomic.Bool

	mu   sync.Mutex
	key  osql.SessionKey
	xerr osql.Errstat
}

// set stores the completing identity and status. It returns false if a result
// was already recorded; the first result sticks, there is no retraction.
func (c *completion) set(key osql.SessionKey, xerr osql.Errstat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done.Load() {
		return false
	}
	c.key = key
	c.xerr = xerr
	c.done.Store(true)
	return true
}

func (c *completion) isDone() bool {
	return c.done.Load()
}

// result returns the recorded identity and status; ok is false until set.
func (c *completion) result() (ok bool, key osql.SessionKey, xerr osql.Errstat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.Load(), c.key, c.xerr
}

// Session is the state machine and data record for one client write
// transaction's offload lifecycle.
//
// Two independent locks guard disjoint field sets: the primary mutex+condition
// covers the structural fields below it, the inner completion type covers only
// the completion result. Neither lock is ever held while acquiring the other.
type Session struct {
	// Immutable after creation.
	key     osql.SessionKey
	typ     ReqType
	sqlText string
	tzName  string
	queryID int32
	node    string

	mu   sync.Mutex
	cond *sync.Cond

	// owner is the opaque execution-context back-reference (the query context
	// that created this session); cleared on dispatch, when ownership of forward
	// progress transfers to the block processor.
	owner      any
	dispatched bool
	terminated bool
	registered bool
	clients    int
	destroyed  bool

	startAt time.Time
	endAt   time.Time
	lastRow time.Time
	retries int

	// seq is the highest op sequence delivered; ops at or below it are dropped
	// as duplicates.
	seq      uint64
	tranRows int
	oplog    []OpRecord

	// Reorder bookkeeping: out-of-order application downstream needs the last
	// touched table/index, last row identity, a generated-key sequence for
	// inserts, and whether the last op was an insert (insert, update and delete
	// ops need different conflict-detection handling).
	lastTable       string
	tableVersion    int
	tblIdx          uint16
	lastGenid       uint64
	insSeq          uint64
	lastIsIns       bool
	reorderOn       bool
	selectvOnUpdate bool

	selectv *SelectvCache

	comp completion

	// onDestroy, when set, observes the destroy transition; used by tests and
	// the repository's accounting.
	onDestroy func(*Session)
}

// Config carries the immutable attributes of a new session.
type Config struct {
	Rqid    uint64
	UUID    osql.UUID
	Type    ReqType
	SQL     string
	TzName  string
	QueryID int32
	// Node is the engine instance the originating SQL thread runs on; terminate
	// sweeps match on it when a node is declared failed.
	Node string
	// Owner is the opaque execution context bound until dispatch.
	Owner any
	// ReorderOn enables out-of-order op application downstream.
	ReorderOn bool
	// SelectvWritelockOnUpdate also records update/delete genids in the conflict cache.
	SelectvWritelockOnUpdate bool
}

func newSession(cfg Config) (*Session, error) {
	key := osql.NewRqidKey(cfg.Rqid)
	if cfg.Rqid == osql.RqidUseUUID {
		if cfg.UUID.IsNil() {
			return nil, osql.Errorf(osql.LockFailure, "rqid sentinel requires a UUID")
		}
		key = osql.NewUUIDKey(cfg.UUID)
	}
	s := &Session{
		key:             key,
		typ:             cfg.Type,
		sqlText:         cfg.SQL,
		tzName:          cfg.TzName,
		queryID:         cfg.QueryID,
		node:            cfg.Node,
		owner:           cfg.Owner,
		clients:         1,
		startAt:         Now(),
		reorderOn:       cfg.ReorderOn,
		selectvOnUpdate: cfg.SelectvWritelockOnUpdate,
		selectv:         newSelectvCache(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Key returns the session identity; immutable after creation.
func (s *Session) Key() osql.SessionKey { return s.key }

// Rqid returns the numeric request id (RqidUseUUID when UUID-addressed).
func (s *Session) Rqid() uint64 { return s.key.Rqid }

// UUID returns the UUID identity; nil unless UUID-addressed.
func (s *Session) UUID() osql.UUID { return s.key.UUID }

// Type returns the session's transport/version tag.
func (s *Session) Type() ReqType { return s.typ }

// QueryID returns the originating query id.
func (s *Session) QueryID() int32 { return s.queryID }

// SQL returns the sql text snapshot taken at creation.
func (s *Session) SQL() string { return s.sqlText }

// TzName returns the transaction's timezone snapshot.
func (s *Session) TzName() string { return s.tzName }

// Node returns the originating engine instance name.
func (s *Session) Node() string { return s.node }

// IsReorderOn reports whether out-of-order op application is enabled downstream.
func (s *Session) IsReorderOn() bool { return s.reorderOn }

// AddClient registers a client reference, preventing the session's destruction
// until the matching RemClient. Any thread that needs the session to remain
// valid beyond a single call must hold such a reference.
func (s *Session) AddClient() {
	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
}

// RemClient releases a client reference. When the count reaches zero and the
// session is no longer registered in the repository, the session is destroyed.
// An unbalanced call is a LockFailure.
func (s *Session) RemClient() error {
	s.mu.Lock()
	if s.clients <= 0 {
		s.mu.Unlock()
		return osql.Errorf(osql.LockFailure, "session %v: RemClient without AddClient", s.key)
	}
	s.clients--
	destroy := s.clients == 0 && !s.registered && !s.destroyed
	if destroy {
		s.destroyed = true
	}
	s.mu.Unlock()
	if destroy {
		s.destroy()
	}
	return nil
}

// destroy releases owned memory. Only reachable once the refcount is zero and
// the session is unregistered; runs exactly once.
func (s *Session) destroy() {
	s.oplog = nil
	s.selectv = nil
	s.owner = nil
	if s.onDestroy != nil {
		s.onDestroy(s)
	}
	log.Debug("session destroyed", "rqid", s.key.String())
}

// setRegistered flips the repository-membership flag. Unregistering a session
// whose refcount already hit zero triggers destruction here.
func (s *Session) setRegistered(registered bool) {
	s.mu.Lock()
	s.registered = registered
	destroy := !registered && s.clients == 0 && !s.destroyed
	if destroy {
		s.destroyed = true
	}
	s.mu.Unlock()
	if destroy {
		s.destroy()
	}
}

// saveOp appends a delivered op to the session's local operation log under the
// primary lock. Duplicates (sequence at or below the high-water mark) are
// dropped silently; a gap is unexpected under the transport's ordering
// guarantee and is logged. Ops on a terminated session are not accepted.
func (s *Session) saveOp(op OpRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		log.Debug("op on terminated session dropped", "rqid", s.key.String(), "seq", op.Seq)
		return
	}
	if op.Seq == 0 {
		// Transport did not number the op; assign the next in-session sequence.
		op.Seq = s.seq + 1
	}
	if s.seq != 0 && op.Seq <= s.seq {
		// Redelivery; the log already holds this op.
		return
	}
	if s.seq != 0 && op.Seq > s.seq+1 {
		log.Warn("op sequence gap", "rqid", s.key.String(), "have", s.seq, "got", op.Seq)
	}
	s.seq = op.Seq
	s.lastRow = Now()
	s.oplog = append(s.oplog, op)

	if op.Kind.IsMutation() {
		s.tranRows++
		s.lastTable = op.Table
		s.tableVersion = op.TableVersion
		s.tblIdx = op.TableIndex
		s.lastGenid = op.Genid
		s.lastIsIns = op.Kind == OpInsert
		if op.Kind == OpInsert {
			s.insSeq++
		}
	}
	if op.Kind == OpSelectv ||
		(s.selectvOnUpdate && (op.Kind == OpUpdate || op.Kind == OpDelete)) {
		s.selectv.Record(op.Table, op.TableVersion, op.Genid)
	}
}

// Dispatch marks the session as owned by the block-processing path and clears
// the execution-context back-reference (detached, not destroyed; its lifetime
// is owned elsewhere). The transition is one-way. Dispatching a terminated or
// already dispatched session returns AlreadyHandled.
func (s *Session) Dispatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return osql.Errorf(osql.AlreadyHandled, "session %v is terminated", s.key)
	}
	if s.dispatched {
		return osql.Errorf(osql.AlreadyHandled, "session %v already dispatched", s.key)
	}
	s.dispatched = true
	s.owner = nil
	return nil
}

// Dispatched reports whether the block processor owns forward progress.
func (s *Session) Dispatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched
}

// Owner returns the bound execution context; nil once dispatched.
func (s *Session) Owner() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// IsTerminated reports whether the cooperative cancellation flag is set.
func (s *Session) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// SetComplete records the completing identity and error status (empty status =
// success), then wakes any thread blocked waiting for completion. The result
// fields are set under the completion lock before waiters are signaled under
// the primary lock; the two locks are never held together.
func (s *Session) SetComplete(key osql.SessionKey, xerr osql.Errstat) error {
	if key != s.key {
		return osql.Errorf(osql.NotFound, "completion for %v delivered to session %v", key, s.key)
	}
	if !s.comp.set(key, xerr) {
		return osql.Errorf(osql.AlreadyHandled, "session %v already completed", s.key)
	}
	s.mu.Lock()
	s.endAt = Now()
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Completed returns the completion status; ok is false until SetComplete ran.
// After the first observation all subsequent reads return the same value.
func (s *Session) Completed() (ok bool, xerr osql.Errstat) {
	ok, _, xerr = s.comp.result()
	return ok, xerr
}

// WaitComplete blocks the calling (SQL engine) thread until the session
// completes, is terminated, or ctx is done. Waiters re-check state after every
// wakeup since spurious wakeups are possible. A termination observed before
// completion is reported as an aborted transaction, not an error.
func (s *Session) WaitComplete(ctx context.Context) (osql.Errstat, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	for !s.comp.isDone() && !s.terminated && ctx.Err() == nil {
		s.cond.Wait()
	}
	terminated := s.terminated
	s.mu.Unlock()

	if ok, _, xerr := s.comp.result(); ok {
		return xerr, nil
	}
	if terminated {
		return osql.NewErrstat(osql.ErrstatAborted, "session terminated"), nil
	}
	return osql.Errstat{}, ctx.Err()
}

// TryTerminate attempts to transition a session that has not completed and is
// not dispatched to the terminated state. Termination is a flag set checked at
// safe points, never a synchronous abort; in-flight work winds down
// cooperatively. Terminating twice is idempotent.
func (s *Session) TryTerminate() (TerminateOutcome, error) {
	if s.comp.isDone() {
		return TerminateSkipped, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comp.isDone() {
		// A completion landed between the fast-path check and the lock;
		// completed always wins over termination.
		return TerminateSkipped, nil
	}
	if s.terminated {
		// Terminal state already reached; same as after the first call.
		return TerminateSkipped, nil
	}
	if s.dispatched {
		// The block processor owns it now; it will complete (or abort) on its own.
		return TerminateSkipped, nil
	}
	s.terminated = true
	s.cond.Broadcast()
	return Terminated, nil
}

// markTerminated sets the cancellation flag regardless of dispatch state; used
// by repository sweeps when a node is declared failed. Waiters are woken so
// they can synthesize an aborted completion.
func (s *Session) markTerminated() {
	s.mu.Lock()
	if !s.terminated {
		s.terminated = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// CacheSelectv records a (table, genid) pair read under select-for-update
// semantics for the current op type. Recording is idempotent.
func (s *Session) CacheSelectv(kind OpKind, tablename string, tableversion int, genid uint64) {
	if kind != OpSelectv && !(s.selectvOnUpdate && (kind == OpUpdate || kind == OpDelete)) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectv == nil {
		return
	}
	s.selectv.Record(tablename, tableversion, genid)
}

// ProcessSelectv replays all recorded (table, genid) pairs through wr so the
// block processor can re-validate every optimistic read at commit time.
func (s *Session) ProcessSelectv(wr SelectvWriter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectv == nil {
		return nil
	}
	return s.selectv.Replay(wr)
}

// ResetSelectv clears the genid conflict cache for a retry attempt.
func (s *Session) ResetSelectv() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectv != nil {
		s.selectv.Reset()
	}
}

// OpLog returns a copy of the delivered operation log. It is meant to be read
// by the block processor after dispatch, when no further concurrent writers
// exist.
func (s *Session) OpLog() []OpRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OpRecord, len(s.oplog))
	copy(out, s.oplog)
	return out
}

// LastRow returns the time the most recent op was received; liveness probe for
// stall detection.
func (s *Session) LastRow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRow
}

// Retries returns how many earlier sessions this one replaced.
func (s *Session) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Summary snapshots the session for the request logger and the admin surface.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	elapsed := s.endAt.Sub(s.startAt)
	if s.endAt.IsZero() {
		elapsed = Now().Sub(s.startAt)
	}
	sum := Summary{
		Key:        s.key.String(),
		Rqid:       s.key.Rqid,
		Type:       s.typ,
		SQL:        s.sqlText,
		Node:       s.node,
		QueryID:    s.queryID,
		StartAt:    s.startAt,
		ElapsedMs:  elapsed.Milliseconds(),
		Retries:    s.retries,
		TranRows:   s.tranRows,
		Ops:        s.seq,
		Dispatched: s.dispatched,
		Terminated: s.terminated,
	}
	s.mu.Unlock()

	if ok, _, xerr := s.comp.result(); ok {
		sum.Completed = true
		sum.Errstat = xerr
	}
	return sum
}

func (s *Session) String() string {
	return fmt.Sprintf("sess %v type %d", s.key, s.typ)
}
