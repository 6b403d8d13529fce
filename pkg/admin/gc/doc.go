/*
Package gc implements the admin garbage collector over the file registry.

The collector runs on an interval and executes three strategies in order:
expired temporary files, stale edit-element copies of finalized files, and
an orphan sweep of element objects with no registry entry. Orphans need
two observations separated by a safety margin before anything is deleted.
Failed actions back off exponentially and are retried on later cycles.
*/
package gc
