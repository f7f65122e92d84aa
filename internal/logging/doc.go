// Package logging provides structured logging for zektor.
//
// It wraps log/slog to write JSON lines with persistent context attributes.
// A file logger lives at {data_dir}/zektor.log and is rotated by size,
// optionally gzip-compressing the rotated files.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dataDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithComponent("lifecycle").WithSession(3).Info("session advanced", "to", 4)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"session advanced","component":"lifecycle","session_id":3,"to":4}
//
// # Reading Logs Back
//
// [ReadEntries] parses the log file and [Filter] narrows the result by level,
// time, session, stage, component or message text. [WriteText] renders
// entries for a terminal.
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// created with the With* methods share the parent's writer.
package logging
