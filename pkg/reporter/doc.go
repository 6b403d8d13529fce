/*
Package reporter publishes the element's capacity and health to the shared
registry on a fixed interval.

The published hash carries a TTL of three intervals so a crashed element
disappears from discovery without any peer coordination. Publishes go
through the registry circuit breaker; while the breaker is open cycles are
skipped and the element keeps serving requests.
*/
package reporter
