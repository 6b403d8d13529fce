/*
Package attr implements the attribute sidecar codec.

Every object is accompanied by a <storage_filename>.attr.json sidecar of at
most 4096 bytes. The sidecar is the source of truth for file metadata; the
SQL metadata cache is a recomputable mirror.

Readers accept schema versions 1.0 and 2.0. A 1.0 sidecar is upgraded in
memory (its template field is preserved verbatim under custom.template).
Writers always produce 2.0 and enforce the size cap before any bytes reach
the backend.
*/
package attr
