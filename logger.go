package bayeux

import "github.com/sirupsen/logrus"

// Logger is the logging interface this package leverages. NewSession's
// default Options use a no-op Logger; callers wire in logrus
// (WithLogrusLogger), slog (WithSlogLogger), or any Logger (WithLogger) to
// see anything.
type Logger interface {
	// Debug logs msg and args at the debug level.
	Debug(msg string, args ...any)

	// Info logs msg and args at the info level.
	Info(msg string, args ...any)

	// Warn logs msg and args at the warn level.
	Warn(msg string, args ...any)

	// Error logs msg and args at the error level.
	Error(msg string, args ...any)

	// WithError returns a Logger that attaches err to every subsequent
	// log entry.
	WithError(error) Logger

	// WithField returns a Logger that attaches key/value to every
	// subsequent log entry.
	WithField(key string, value any) Logger
}

type nullLogger struct{}

func (*nullLogger) Debug(msg string, args ...any) {}
func (*nullLogger) Info(msg string, args ...any)  {}
func (*nullLogger) Warn(msg string, args ...any)  {}
func (*nullLogger) Error(msg string, args ...any) {}

func (l *nullLogger) WithError(err error) Logger {
	return l
}

func (l *nullLogger) WithField(key string, value any) Logger {
	return l
}

func newNullLogger() *nullLogger {
	return &nullLogger{}
}

// NopLogger returns a Logger that discards everything, for callers outside
// this package (such as extensions/salesforce's StaticTokenAuthenticator)
// that want a safe default when no Logger is configured.
func NopLogger() Logger {
	return newNullLogger()
}

type wrappedFieldLogger struct {
	logrus.FieldLogger
}

func (w *wrappedFieldLogger) Debug(msg string, args ...any) {
	w.FieldLogger.Debug(append([]any{msg}, args...)...)
}

func (w *wrappedFieldLogger) Info(msg string, args ...any) {
	w.FieldLogger.Info(append([]any{msg}, args...)...)
}

func (w *wrappedFieldLogger) Warn(msg string, args ...any) {
	w.FieldLogger.Warn(append([]any{msg}, args...)...)
}

func (w *wrappedFieldLogger) Error(msg string, args ...any) {
	w.FieldLogger.Error(append([]any{msg}, args...)...)
}

func (w *wrappedFieldLogger) WithError(err error) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithError(err)}
}

func (w *wrappedFieldLogger) WithField(key string, value any) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithField(key, value)}
}

// WithLogrusLogger configures the Session to log through a
// logrus.FieldLogger, e.g. the result of logrus.New().
func WithLogrusLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = &wrappedFieldLogger{logger}
	}
}

// NewLogrusLogger adapts a logrus.FieldLogger into a Logger value directly,
// for callers outside this package (such as extensions/salesforce's
// StaticTokenAuthenticator) that take a Logger field rather than an Option.
func NewLogrusLogger(logger logrus.FieldLogger) Logger {
	return &wrappedFieldLogger{logger}
}
