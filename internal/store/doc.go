// Package store provides the durable, append-only message log.
//
// The SQLite implementation stores one row per message with
// second-precision UTC timestamps and enforces idempotent creation
// through a partial unique index on (conversation_id,
// client_request_id). Reads order by (created_at, id); ids are
// time-sortable UUIDs, so messages created within the same second keep
// a stable order.
package store
