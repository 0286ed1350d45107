// Package storage persists the canonical event stream.
//
// Each symbol gets date-partitioned parquet files plus a sidecar
// watermark record. A flush writes to a temporary name, fsyncs, and
// renames into place; only then is the watermark advanced. A crash
// between rename and watermark write therefore costs at most a
// filename rescan on restart, never data loss.
//
// An optional PostgreSQL mirror keeps a queryable copy of the stream.
// Mirror failures are logged and never affect the durable file path.
package storage
