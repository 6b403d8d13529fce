/*
Package keys manages the RS256 signing key set of the admin control plane.

Exactly one key is primary and signs new tokens; every active key
validates. The rotator generates a fresh RSA-2048 keypair on a schedule,
promotes it to primary and retires prior keys once their expiry passes,
with physical deletion deferred by a safety window. Rotations across
admin replicas are serialized by the Redis kr_lock.
*/
package keys
