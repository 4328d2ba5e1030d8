package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	backend = newBackend()
)

func newBackend() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects every module logger created by the default factory.
func SetOutput(w io.Writer) {
	backend.SetOutput(w)
}

// SetLevel accepts logrus level names: "debug", "info", "warning", "error".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	backend.SetLevel(lvl)
	return nil
}

type logrusLogger struct {
	entry *logrus.Entry
}

func GetDefaultLogger(moduleName string) Logger {
	return &logrusLogger{
		entry: backend.WithField("module", moduleName),
	}
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warningf(format, args...)
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// logrus writes synchronously, nothing is buffered
func (l *logrusLogger) Flush() {}
