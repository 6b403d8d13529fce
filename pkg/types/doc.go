/*
Package types defines the core data structures shared across ArtStore.

It contains the sidecar attribute record (the source of truth for file
metadata), the WAL entry model, storage element configuration and mode rules,
the registry discovery record with adaptive capacity thresholds, restore
tickets, and the admin identities (admin users, service accounts, JWT keys).

Types here are plain data with small invariant helpers; all orchestration
lives in the packages that own the respective stores.
*/
package types
