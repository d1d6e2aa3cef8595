/*
Package log provides structured logging for Snapguard built on zerolog.

A single global logger is initialized once at process startup via Init, then
components derive child loggers carrying stable correlation fields:

	logger := log.WithComponent("snapshot-worker")
	logger.Info().Str("run_id", run.ID).Msg("pipeline started")

Console output (the default) is for interactive use; JSON output is intended
for production log shipping.
*/
package log
