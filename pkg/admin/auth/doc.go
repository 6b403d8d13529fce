/*
Package auth issues and validates the RS256 bearer tokens of the ArtStore
fleet.

Access tokens live 30 minutes, refresh tokens 7 days. Tokens are signed by
the current primary key; validation walks the key set newest first so a
freshly rotated fleet keeps accepting tokens signed by the prior key
through its grace window.
*/
package auth
