// Package log is the structured logging facade used across spdklog. It
// mirrors the level-gated helpers marketstore's utils/log exposes over zap,
// scoped down to what a library (rather than a server process) should own:
// callers may swap the underlying zap.Logger, but the package never calls
// zap.ReplaceGlobals itself.
package log

import (
	"go.uber.org/zap"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var (
	logger   = zap.NewNop()
	logLevel = INFO
)

// SetLogger installs the zap.Logger used for subsequent log calls.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// SetLevel changes the minimum level that is actually emitted.
func SetLevel(level Level) {
	logLevel = level
}

func Debug(format string, args ...interface{}) {
	if logLevel <= DEBUG {
		logger.Sugar().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if logLevel <= INFO {
		logger.Sugar().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if logLevel <= WARNING {
		logger.Sugar().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if logLevel <= ERROR {
		logger.Sugar().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	logger.Sugar().Fatalf(format, args...)
}
