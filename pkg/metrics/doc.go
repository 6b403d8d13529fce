/*
Package metrics provides Prometheus instrumentation for ArtStore.

Collectors are package-level and registered in init; components record into
them directly. The Handler function exposes the standard promhttp endpoint,
mounted at /metrics on both the storage element and admin HTTP servers.
*/
package metrics
