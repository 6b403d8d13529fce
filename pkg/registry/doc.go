/*
Package registry wraps the shared Redis surface used for fleet discovery.

Each storage element publishes a hash at storage:elements:{id} with a TTL of
three report intervals, plus a membership in the per-mode priority sorted set
(storage:rw:by_priority, storage:edit:by_priority). Consumers select upload
targets by ascending priority; an element that reports capacity_status=full
removes itself from the sets but keeps serving reads.

The fail-open contract: a graceful shutdown deletes the hash and set entries;
a crash simply lets the TTL expire, after which the fleet treats the element
as offline. Element-side writes run behind a circuit breaker so a registry
outage degrades discovery, never the data path.

The package also provides the Redis SET NX EX lock used to serialize cache
rebuilds (se:{id}:cache_lock) and admin key rotation (kr_lock), with owner
heartbeat renewal and priority tags.
*/
package registry
