package util

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/CodeAndHammer/khamklai/internal/constants"
)

func SetLogLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func UseJSONLogs() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

func LogDebug(format string, v ...any) {
	logrus.Debugf(format, v...)
}

func LogInfo(format string, v ...any) {
	logrus.Infof(format, v...)
}

func LogWarn(format string, v ...any) {
	logrus.Warnf(format, v...)
}

func LogError(format string, v ...any) {
	logrus.Errorf(format, v...)
}

func LogFatal(format string, v ...any) {
	logrus.Fatalf(format, v...)
}

// WithRequest returns a log entry tagged with the request id carried by ctx, if any.
func WithRequest(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if ctx == nil {
		return entry
	}
	if reqID, ok := ctx.Value(constants.RequestIDKey).(string); ok && reqID != "" {
		return entry.WithField("request_id", reqID)
	}
	return entry
}
