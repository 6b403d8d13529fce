/*
Package tickets persists restore tickets for archive-mode storage elements.

A download against an archive element cannot serve bytes; it hands out a
ticket that tracks rehydration onto a designated edit element. Tickets are
local state of one element, so they live in an embedded bbolt file next to
the object tree rather than in the shared database. A ticket expires 30
days after the restored bytes land.
*/
package tickets
