package session

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/blocksql/osql"
)

const defaultClaimTTL = 5 * time.Minute

// RepositoryConfig configures one engine instance's session repository.
type RepositoryConfig struct {
	// Node is this engine instance's name, used as the claim value in the
	// cross-node duplicate-request cache.
	Node string
	// Claims, when set, is consulted before registering a session so a retried
	// request landing on another node is detected as a duplicate.
	Claims osql.Cache
	// ClaimTTL bounds a claim's lifetime; defaults to 5 minutes.
	ClaimTTL time.Duration
	// Sink, when set, receives the summary of every session the repository closes.
	Sink SummarySink
}

// Repository is the process-wide concurrent registry of offload sessions,
// keyed by request identity. It routes incoming op packets from the receiver
// thread to the matching session and serves administrative terminate sweeps.
//
// The repository lock is distinct from any individual session's locks and is
// always acquired first when both are needed, never the reverse.
type Repository struct {
	mu       sync.Mutex
	sessions map[osql.SessionKey]*Session

	node     string
	claims   osql.Cache
	claimTTL time.Duration
	sink     SummarySink
}

// NewRepository constructs a repository; one per running engine instance.
func NewRepository(cfg RepositoryConfig) *Repository {
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &Repository{
		sessions: make(map[osql.SessionKey]*Session),
		node:     cfg.Node,
		claims:   cfg.Claims,
		claimTTL: ttl,
		sink:     cfg.Sink,
	}
}

// Create allocates a session, assigns its identity and registers it. On an
// identity collision the existing session is flag-terminated, unlinked and
// released atomically with the new insert (no interleaving lookup can observe
// both under one key); replaced reports that this happened and the new session
// inherits the old one's retry count plus one. A collision with a session that
// already completed or was dispatched is a DuplicateRequest instead.
//
// The returned session carries the creator's client reference; it is released
// by Close or ClearOnError.
func (r *Repository) Create(ctx context.Context, cfg Config) (sess *Session, replaced bool, err error) {
	if cfg.Node == "" {
		cfg.Node = r.node
	}
	s, err := newSession(cfg)
	if err != nil {
		return nil, false, err
	}

	freshClaim := false
	if r.claims != nil {
		claimed, cerr := r.claims.SetIfNotExists(ctx, claimKey(s.Key()), r.node, r.claimTTL)
		if cerr != nil {
			return nil, false, cerr
		}
		freshClaim = claimed
		if !claimed {
			// Another node holds this request; retrying against it locally is
			// fine (same claim value), executing it twice across nodes is not.
			_, owner, cerr := r.claims.Get(ctx, claimKey(s.Key()))
			if cerr != nil {
				return nil, false, cerr
			}
			if owner != r.node {
				return nil, false, osql.Errorf(osql.DuplicateRequest,
					"request %v already claimed by node %s", s.Key(), owner)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[s.Key()]; ok {
		outcome, terr := old.TryTerminate()
		if terr != nil {
			if freshClaim {
				r.releaseClaim(ctx, s.Key())
			}
			return nil, false, terr
		}
		if outcome != Terminated {
			// Old session already progressed; the caller retries later. A claim
			// taken just above (the old one's TTL had lapsed) must not outlive
			// this failed create.
			if freshClaim {
				r.releaseClaim(ctx, s.Key())
			}
			return nil, false, osql.Errorf(osql.DuplicateRequest,
				"session %v already exists and is past termination", s.Key())
		}
		delete(r.sessions, s.Key())
		old.setRegistered(false)
		s.retries = old.Retries() + 1
		replaced = true
		log.Debug("session replaced on identity collision", "rqid", s.Key().String())
	}

	s.setRegistered(true)
	r.sessions[s.Key()] = s
	return s, replaced, nil
}

// Find returns the session for the given identity with a client reference
// already added, so no removal can interleave between lookup and retention.
// The caller must release it with RemClient. A missing identity is NotFound.
func (r *Repository) Find(key osql.SessionKey) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, osql.Errorf(osql.NotFound, "no session for %v", key)
	}
	s.AddClient()
	return s, nil
}

// ReceiveOp routes a delivered op to the matching session's operation log.
// found=false with a nil error means no session is registered for the identity,
// which is a normal race (the op may have arrived after the session already
// completed and was removed), not a bug.
func (r *Repository) ReceiveOp(ctx context.Context, key osql.SessionKey, op OpRecord) (found bool, err error) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		log.Debug("op for unknown session", "rqid", key.String(), "seq", op.Seq)
		return false, nil
	}
	// Retain while still under the repository lock so the session cannot vanish
	// between lookup and use.
	s.AddClient()
	r.mu.Unlock()

	s.saveOp(op)
	if err := s.RemClient(); err != nil {
		return true, err
	}
	return true, nil
}

// Remove unlinks the session for the given identity. Removing an absent
// identity is a no-op. The session is destroyed once its refcount drains.
func (r *Repository) Remove(ctx context.Context, key osql.SessionKey) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.setRegistered(false)
	r.releaseClaimIfUnowned(ctx, key)
}

// Close terminates the session (if it has not already progressed past that)
// and unregisters it, then releases the creator's client reference. unlinked
// says the caller already removed the session from the repository, as the
// inline cleanup path during a coordination-role handover does: there, the
// unlink must happen before any log buffer is freed so a receiver thread
// cannot deliver into a session being torn down.
func (r *Repository) Close(ctx context.Context, s *Session, unlinked bool) error {
	if !unlinked {
		r.Remove(ctx, s.Key())
	} else {
		r.releaseClaimIfUnowned(ctx, s.Key())
	}
	if _, err := s.TryTerminate(); err != nil {
		return err
	}
	if r.sink != nil {
		if err := r.sink.LogSummary(ctx, s.Summary()); err != nil {
			log.Warn("summary sink failed", "rqid", s.Key().String(), "err", err)
		}
	}
	return s.RemClient()
}

// ClearOnError removes and releases a session that was registered but failed
// to be handed to a processing thread, bypassing the normal dispatch/complete
// flow. Leak-avoidance path.
func (r *Repository) ClearOnError(ctx context.Context, key osql.SessionKey) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.setRegistered(false)
	r.releaseClaimIfUnowned(ctx, key)
	s.markTerminated()
	if err := s.RemClient(); err != nil {
		log.Warn("clear-on-error release failed", "rqid", key.String(), "err", err)
	}
}

// Sweep marks terminated every session matching the predicate and returns how
// many matched. A nil predicate matches unconditionally. Termination is a flag
// set, so the sweep can never deadlock against an in-progress delivery.
func (r *Repository) Sweep(match func(*Session) bool) int {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.AddClient()
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range snapshot {
		if match == nil || match(s) {
			s.markTerminated()
			n++
		}
		if err := s.RemClient(); err != nil {
			log.Warn("sweep release failed", "rqid", s.Key().String(), "err", err)
		}
	}
	return n
}

// TerminateNode sweeps all sessions originating from the given node; an empty
// node matches every session. Used when a remote participant is declared
// failed or a coordinator role changes hands.
func (r *Repository) TerminateNode(node string) int {
	return r.Sweep(func(s *Session) bool {
		return node == "" || s.Node() == node
	})
}

// Summaries snapshots every live session for the admin surface.
func (r *Repository) Summaries() []Summary {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.AddClient()
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, s.Summary())
		if err := s.RemClient(); err != nil {
			log.Warn("summaries release failed", "rqid", s.Key().String(), "err", err)
		}
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// releaseClaimIfUnowned drops the cross-node claim for key only when no session
// is registered under it anymore. A session replaced on identity collision
// leaves its replacement registered under the same key; the claim must keep
// guarding it, or a retried request landing on another node would run while
// the replacement still executes here.
func (r *Repository) releaseClaimIfUnowned(ctx context.Context, key osql.SessionKey) {
	if r.claims == nil {
		return
	}
	r.mu.Lock()
	_, live := r.sessions[key]
	r.mu.Unlock()
	if live {
		return
	}
	r.releaseClaim(ctx, key)
}

func (r *Repository) releaseClaim(ctx context.Context, key osql.SessionKey) {
	if r.claims == nil {
		return
	}
	if _, err := r.claims.Delete(ctx, []string{claimKey(key)}); err != nil {
		log.Warn("claim release failed", "rqid", key.String(), "err", err)
	}
}

func claimKey(key osql.SessionKey) string {
	return "rq:" + key.String()
}
