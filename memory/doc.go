// Package memory provides the tiered memory used to build conversation context.
//
// Memory is split into tiers, all namespaced by identifier:
//   - Buffer: recent turns with expiry (Redis, see memory/buffer)
//   - Profile: one live snapshot of the caller-supplied profile
//   - Persona: one optional administrator override per identifier
//   - Knowledge: one shared document per server scope
//   - History: long-term memory records, compacted once they pile up
//
// Architecture:
//   - Store: semantic storage backend (chromem-go embedded, Chroma, Qdrant)
//   - Embedder: text-to-vector conversion used by the store backends
//   - ProfileSync, Personas, Knowledge: single-record tiers
//   - Writer: appends history records and schedules compaction
//
// Single-record tiers are replaced by delete-then-insert because none of the
// backends offers an atomic "replace where". The inserted document's ID is
// derived from the tier key, so two concurrent replacements for the same key
// upsert onto one document instead of leaving two behind. Between the delete
// and the insert a concurrent reader sees no record and falls back to its
// default (observed profile, default persona, no knowledge).
//
// Compaction race: Writer does not lock per identifier. Two overlapping
// records for the same identifier can each trigger compaction, so two
// summaries may be inserted or one compaction may delete a record the other
// just wrote. The lost data is ordinary chat memory, not authoritative state,
// and the next compaction folds any duplicates back into one summary. Callers
// that need stronger guarantees serialize requests per identifier (the server
// package does).
package memory
