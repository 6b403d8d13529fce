/*
Package api is the admin control plane HTTP surface.

It issues tokens to service accounts and admin users, manages both
identity populations, registers and syncs storage elements, exposes the
signing key set, and serves the Redis-down fallback discovery queries.
Human endpoints are gated by admin role; super_admin is required for
identity management and element deletion.
*/
package api
