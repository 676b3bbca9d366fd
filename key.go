package osql

import "fmt"

// RqidUseUUID is the reserved numeric request id meaning "the UUID is the real key".
// Exactly one addressing mode is active per session: a numeric rqid, or, when the
// rqid equals this sentinel, the 128-bit UUID.
const RqidUseUUID uint64 = 1

// SessionKey identifies one client write transaction's offload session. It is a
// tagged union of the two addressing modes and is comparable, so it can key a map
// directly. The key is immutable once assigned to a session.
type SessionKey struct {
	Rqid uint64
	// UUID is meaningful only when Rqid == RqidUseUUID.
	UUID UUID
}

// NewRqidKey returns a numeric-id key. rqid must not be the RqidUseUUID sentinel.
func NewRqidKey(rqid uint64) SessionKey {
	return SessionKey{Rqid: rqid}
}

// NewUUIDKey returns a UUID-addressed key.
func NewUUIDKey(id UUID) SessionKey {
	return SessionKey{Rqid: RqidUseUUID, UUID: id}
}

// IsUUID reports whether the UUID is the active addressing mode.
func (k SessionKey) IsUUID() bool {
	return k.Rqid == RqidUseUUID
}

// IsNil reports whether the key is unassigned.
func (k SessionKey) IsNil() bool {
	return k.Rqid == 0 && k.UUID.IsNil()
}

// String renders the active addressing mode, for logs and the admin surface.
func (k SessionKey) String() string {
	if k.IsUUID() {
		return k.UUID.String()
	}
	return fmt.Sprintf("%d", k.Rqid)
}
