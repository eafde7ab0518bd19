//go:build go1.21

package bayeux

import "log/slog"

type wrappedSlog struct {
	*slog.Logger
}

func (w *wrappedSlog) WithError(err error) Logger {
	return w.WithField("error", err)
}

func (w *wrappedSlog) WithField(key string, value any) Logger {
	return &wrappedSlog{w.With(slog.Any(key, value))}
}

// WithSlogLogger configures the session to log through logger instead of
// the default no-op Logger.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(options *Options) {
		options.Logger = &wrappedSlog{logger}
	}
}
