package signalr

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured logging.
// See github.com/go-kit/log
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// log field keys
const (
	evt     = "event"
	msg     = "message"
	react   = "react"
	msgRecv = "message received"
	msgSend = "message send"
)

func buildInfoDebugLogger(logger log.Logger, debug bool) (log.Logger, log.Logger) {
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}

func fmtMsg(message interface{}) string {
	return fmt.Sprintf("%v", message)
}
