// Package osql is the session-tracking core of the blocksql engine's offloaded-write
// subsystem. A client write transaction executes on one node while its row-level
// effects are shipped, as an ordered stream of log operations, to a block processor
// that applies them and reports a single completion status back.
//
// This package holds the shared value types (UUID, SessionKey, Errstat), the error
// taxonomy, and ambient helpers (logging, retry, task runner, cache interface).
// The session state machine and its repository live in the session subpackage;
// collaborator adapters (redis claim cache, cassandra request-log archive, admin
// REST surface) live in their own subpackages.
package osql
