/*
Package accounts manages service accounts: machine identities
authenticated by OAuth2 client credentials.

Client ids follow sa_<env>_<name>_<rand>. Secrets are bcrypt-hashed,
expire after 90 days and may not repeat any of the last five on rotation.
The state machine is ACTIVE / SUSPENDED / EXPIRED / DELETED; there is no
lockout for service accounts, throttling is left to rate limiting.
*/
package accounts
