/*
Package errdefs defines the discriminated error kinds used across ArtStore.

Errors are values, not control flow: each failure mode a caller can act on is
a Kind constant, and packages return *errdefs.Error (usually wrapping a lower
level cause). Only the HTTP layers translate kinds into status codes and the
{error_code, message, details} response body; everything below the edge works
with kinds via errdefs.Is and errdefs.KindOf.
*/
package errdefs
