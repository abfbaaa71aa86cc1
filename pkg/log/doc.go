/*
Package log provides structured logging for the vmdkops service using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable log levels. All logs include
timestamps and support filtering by severity level for production debugging
on the ESX host.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (placement decisions, KV contents)
  - Info: General informational messages (request completed, disk attached)
  - Warn: Unexpected but recoverable conditions (transport retry, KV resync)
  - Error: Operation failures that need investigation
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs ("vmci", "ops", "placement")
  - WithVolume: Add the volume's vmdk path
  - WithVM: Add the calling VM's uuid and display name

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Str("cmd", "attach").
		Str("volume", vmdkPath).
		Msg("request completed")

Component loggers:

	opsLog := log.WithComponent("ops")
	opsLog.Debug().Int("bus", bus).Int("unit", unit).Msg("placed disk")

# Integration Points

This package integrates with:

  - pkg/vmci: Logs request receive/reply and transport retries
  - pkg/dispatch: Logs request routing and datastore resolution
  - pkg/ops: Logs lifecycle operations and cleanup paths
  - pkg/placement: Logs controller/slot selection
  - pkg/kvstore: Logs side-car read/write failures

# Best Practices

Do:
  - Use Info level in production
  - Use structured fields for queryable data (cmd, volume, vm_uuid)
  - Log errors with .Err() so fault text is preserved

Don't:
  - Use Debug level in production
  - Concatenate request payloads into messages (use typed fields)
*/
package log
