// Package logging provides a simple leveled logging interface for the
// asset indexer.
//
// It supports the following log levels:
//   - TRACE: Every categorized item of a reconciliation pass
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable.
// CronLogger adapts the logger to the scheduler's logging interface.
package logging
