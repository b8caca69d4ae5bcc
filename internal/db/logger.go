package db

import (
	"fmt"
	"strings"

	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger("db")

// badgerLogger routes badger's internal messages to the package logger.
// Badger is chatty at info level, so info and debug go to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error(badgerMessage(format, args)).Log()
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn(badgerMessage(format, args)).Log()
}

func (badgerLogger) Infof(format string, args ...any) {
	log.Debug(badgerMessage(format, args)).Log()
}

func (badgerLogger) Debugf(format string, args ...any) {
	log.Debug(badgerMessage(format, args)).Log()
}

func badgerMessage(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
