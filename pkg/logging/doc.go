// Package logging provides the structured, subsystem-tagged logging used
// throughout the service container engine.
//
// Every call site names the subsystem it is logging on behalf of
// ("Registry", "Controller", "Container", "Worker", ...) as the first
// argument, so a single log stream can be filtered or grepped by
// component without any per-package logger wiring:
//
//	logging.Info("Container", "installed %s", name)
//	logging.Error("Controller", err, "start failed for %s", name)
//
// The package wraps log/slog; InitForCLI configures the process-wide
// sink and minimum level once at startup.
package logging
