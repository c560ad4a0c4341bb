package mediasoup

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// rootLogger is the process-wide zerolog sink every component logger is
// derived from, matching anjingxw-mediasoup-go's use of go-logr/zerologr as
// the logr backend.
var rootLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func init() {
	zerologr.SetMaxV(1)
}

// NewLogger returns a named component logger, e.g. NewLogger("Consumer"),
// NewLogger("worker[pid:1234]").
func NewLogger(name string) logr.Logger {
	return zerologr.New(&rootLogger).WithName(name)
}

// SetLogLevel adjusts the minimum zerolog level accepted by the root logger.
// Exposed so host applications can wire it to their own configuration layer.
func SetLogLevel(level zerolog.Level) {
	rootLogger = rootLogger.Level(level)
}
