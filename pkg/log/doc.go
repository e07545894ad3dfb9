/*
Package log provides structured logging for Quarry using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

Each engine component logs through a child logger created with
WithComponent, filtered at a per-component threshold. Components without
an override use the global level, so one subsystem can run at debug while
the rest of the engine stays quiet:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
		ComponentLevels: map[string]log.Level{
			"buffer": log.DebugLevel,
		},
	})

	bufferLog := log.WithComponent("buffer")
	bufferLog.Debug().Uint32("page", id).Msg("Page evicted")

Errors that belong to the client (fault.KindUserLevel) are logged at Info;
engine failures are logged at Error. The Fault helper applies this rule,
and worker-pool boundaries in pkg/executor route every captured error
through it.

Structured logging:

	log.Logger.Info().
		Uint64("transaction_id", tx.ID()).
		Int("pages", n).
		Msg("Checkpoint complete")
*/
package log
