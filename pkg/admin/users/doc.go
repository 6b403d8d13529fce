/*
Package users manages admin users: human identities authenticated by
username and password.

Passwords are bcrypt-hashed at cost 12 and may not repeat any of the last
five. Five failed logins within fifteen minutes lock the account for
fifteen minutes; system accounts cannot be deleted or demoted.
*/
package users
