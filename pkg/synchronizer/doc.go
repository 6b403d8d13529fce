/*
Package synchronizer keeps the metadata cache convergent with the sidecar
tree.

Four maintenance operations share one Redis lock (se:{id}:cache_lock) with
priority tags: full rebuild and incremental rebuild at priority 1,
consistency check at 2, lazy per-entry rebuild at 3 and expired-row
cleanup at 4. A lower-priority attempt never preempts a holder; lazy
rebuilds are fired from the read path and silently skip when any
maintenance holds the lock, serving the stale row instead.
*/
package synchronizer
