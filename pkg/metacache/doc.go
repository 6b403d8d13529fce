/*
Package metacache implements the SQL metadata cache of a storage element.

The cache is a weak, recomputable mirror of the attribute sidecars: every row
can be rebuilt from disk at any time, and the sidecar always wins. Rows carry
cache bookkeeping (cache_updated_at, cache_ttl_hours) and a generated
full-text search_vector; upserts follow a last-writer-wins policy keyed by
the WAL commit time, so an out-of-order materialization of stale data is
dropped silently.

Table identifiers ({prefix}_files, {prefix}_config, {prefix}_schema_version)
are composed from the element's DB_TABLE_PREFIX when the store is
constructed, which lets multiple elements share one database. The element
config singleton also records the mode of the previous run; startup uses it
to reject illegal mode transitions.
*/
package metacache
