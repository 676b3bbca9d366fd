package session

// SelectvWriter is the caller-supplied callback invoked once per recorded
// (table, genid) pair when the genid conflict cache is replayed at commit time.
// The block processor re-validates each pair against current storage state.
type SelectvWriter func(tablename string, tableversion int, genid uint64) error

type selectvKey struct {
	table string
	genid uint64
}

// SelectvCache is the per-session set of (table, genid) pairs read under
// select-for-update semantics. Capture happens during execution, validation at
// commit; keeping the two decoupled lets the same cache be reused unmodified
// across a retry, since the same reads typically recur.
//
// The cache is owned by one session and is only touched under the session's
// primary lock, so it needs no locking of its own.
type SelectvCache struct {
	genids map[selectvKey]int
}

func newSelectvCache() *SelectvCache {
	return &SelectvCache{genids: make(map[selectvKey]int)}
}

// Record adds a (table, genid) pair. Recording the same pair twice has no
// additional effect; the last seen table version wins.
func (c *SelectvCache) Record(tablename string, tableversion int, genid uint64) {
	c.genids[selectvKey{table: tablename, genid: genid}] = tableversion
}

// Count returns the number of distinct recorded pairs.
func (c *SelectvCache) Count() int {
	return len(c.genids)
}

// Replay invokes wr once per recorded pair. Iteration stops at the first error,
// which is returned. Replay is restartable only by re-recording, not resumable
// mid-iteration.
func (c *SelectvCache) Replay(wr SelectvWriter) error {
	for k, ver := range c.genids {
		if err := wr(k.table, ver, k.genid); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all recorded pairs; called at the start of each retry attempt.
func (c *SelectvCache) Reset() {
	c.genids = make(map[selectvKey]int)
}
