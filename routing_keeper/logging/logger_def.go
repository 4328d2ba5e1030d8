package logging

type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Flush()
}

type LoggerFactory func(moduleName string) Logger

var (
	loggerFactory LoggerFactory = GetDefaultLogger
)

func SetLoggerFactory(factory LoggerFactory) {
	loggerFactory = factory
	kLogger = factory("log")
}

func GetLogger(moduleName string) Logger {
	return loggerFactory(moduleName)
}
