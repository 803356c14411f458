/*
Package log wraps zerolog with the structured-logging conventions shared by
every control-plane component: a package-level Logger, a Config for level
and JSON/console output selection, and With* helpers that attach a
component name, a registry component ID, or an action ID to a child logger.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	clog := log.WithComponent("orchestrator").With().Str("component_id", id).Logger()
	clog.Info().Str("command", "INIT").Msg("steering command accepted")

Fatal logs at fatal level and exits the process; it is reserved for
unrecoverable startup failures, never for per-command errors (those flow
back through pkg/ctrlerrors instead).
*/
package log
