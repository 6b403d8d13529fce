/*
Package backend implements the storage drivers for a storage element.

A Driver provides the capability set the file engine needs: atomic object
writes with incremental hashing, ranged reads, stat, delete, atomic sidecar
replacement, prefix walks, and capacity measurement.

Two drivers ship:

  - LocalDriver writes to the local filesystem. Objects stream to a temp
    file in the final directory, fsync, then rename into place. Capacity
    comes from statfs. Directory creation is fenced per directory so
    concurrent first-file writes in the same hour bucket do not race.

  - S3Driver targets S3 or MinIO. Uploads spool locally while hashing and
    land in a single PutObject. Capacity is a declared total with a tracked
    usage counter, periodically reconciled against a full list walk.
*/
package backend
