/*
Package engine implements the storage element file operations: upload,
download, metadata update, delete and search.

Every mutating operation follows the same discipline: a WAL entry records
intent first, object bytes land atomically second, the attribute sidecar
(the source of truth) third, and the metadata cache last as a best-effort
mirror. Compensation on failure removes whatever landed and marks the WAL
entry rolled back, so a crash at any point is recoverable by the startup
WAL scan plus cache rebuild.
*/
package engine
