/*
Package config loads and validates process configuration for the storage
element and admin daemons.

Configuration is environment-first: an optional YAML file may pre-populate a
config struct, after which environment variables (the authoritative interface,
see the deployment docs) are applied on top. Configs are constructed once at
startup, validated, and passed explicitly to the components that need them;
nothing reads the environment after bootstrap.

The storage element mode (APP_MODE) is validated here for syntax only; the
legality of a mode change across restarts is checked against the previously
persisted mode when the metadata store bootstraps.
*/
package config
