package sampling

import (
	"io"
	"log"
)

var diagLogger *log.Logger

// SetLogWriters configures logging for the sampling package. Only the diag
// stream is used; ops and trace are accepted for a uniform signature.
func SetLogWriters(ops, diag, trace io.Writer) {
	if diag == nil {
		diagLogger = nil
		return
	}
	diagLogger = log.New(diag, "[sampling] ", log.LstdFlags|log.Lmicroseconds)
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}
