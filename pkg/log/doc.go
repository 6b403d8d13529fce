/*
Package log provides structured logging for ArtStore using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

Context helpers attach the identifiers that matter when tracing a request
through the store: the storage element (WithElementID), the logical file
(WithFileID), the in-flight WAL transaction (WithTransactionID) and the HTTP
correlation id (WithCorrelationID).

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	engineLog := log.WithComponent("engine")
	engineLog.Info().Str("file_id", id).Msg("upload committed")
*/
package log
