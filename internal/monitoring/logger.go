// Package monitoring holds the process-wide logging hooks: the Logf status
// logger and the three log streams every pipeline package writes to.
package monitoring

import "log"

// Logf is the package-level status logger used for one-off conditions such
// as a missing device capability. It defaults to log.Printf; tests or the
// binary may redirect or mute it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
