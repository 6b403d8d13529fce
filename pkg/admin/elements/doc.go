/*
Package elements tracks the storage element fleet on the admin side.

The admin discovers an element by calling its unauthenticated /info
endpoint and polls it on an interval afterwards. Elements unreachable for
a configurable number of consecutive polls are marked offline and
republished to the registry; mode is read from the element and never
written back. The stored records double as the fallback discovery source
when Redis is down.
*/
package elements
