/*
Package seapi is the HTTP surface of a storage element.

All file routes live under /api/v1 behind bearer-token authentication;
discovery (/info, /capacity) and health probes are open. Errors carry a
stable {error_code, message, details?} body and every response has a
correlation id header.
*/
package seapi
