package session

// OpKind tags one log operation shipped from the SQL engine thread to the block
// processor. Encoding/decoding of the payload bytes is owned by the transport;
// the session core only needs the kind plus the routing metadata below.
type OpKind int

const (
	OpUnknown OpKind = iota
	// OpInsert, OpUpdate and OpDelete are row mutations; they advance the
	// transaction row counter and the reorder bookkeeping.
	OpInsert
	OpUpdate
	OpDelete
	// OpSelectv records a row read under select-for-update semantics; its
	// (table, genid) pair enters the genid conflict cache for commit-time
	// re-validation.
	OpSelectv
	// OpDone marks the end of the op stream for the transaction.
	OpDone
)

// IsMutation reports whether the op kind produces an actual row mutation.
func (k OpKind) IsMutation() bool {
	return k == OpInsert || k == OpUpdate || k == OpDelete
}

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSelectv:
		return "selectv"
	case OpDone:
		return "done"
	}
	return "unknown"
}

// OpRecord is one delivered log operation as stored in the session's local
// operation log. Seq is assigned by the shipping side and is non-decreasing for
// a single session; duplicates are dropped on delivery. Table, TableVersion and
// Genid are decoded routing metadata; Payload is the opaque wire record.
type OpRecord struct {
	Seq          uint64
	Kind         OpKind
	Table        string
	TableVersion int
	TableIndex   uint16
	Genid        uint64
	Payload      []byte
}
