package bayeux

import "net/http"

// Options collects the configurable knobs for a Session. Use the With*
// functions below with NewSession rather than constructing this directly.
type Options struct {
	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	Logger        Logger

	// IgnoreError, when non-nil, is consulted on Connector, Subscriber, and
	// Unsubscriber errors other than timeouts before they kill the session;
	// returning true treats the error as non-fatal and logs it instead.
	// RepeatedTimeoutError, a failed recovery handshake, and the
	// Dispatcher's ProtocolError are not passed to it.
	IgnoreError func(error) bool

	// SuccessiveTimeoutThreshold is the number of consecutive read
	// timeouts the Subscriber or Unsubscriber worker will tolerate before
	// giving up with a RepeatedTimeoutError. Mirrors the reference
	// implementation's successive_timeout_threshold, default 20.
	SuccessiveTimeoutThreshold int

	// TimeoutWait is how long a worker sleeps before retrying after a
	// timeout. Mirrors the reference implementation's timeout_wait,
	// default 5 seconds.
	TimeoutWait int

	// QueueCapacity sizes the buffered channels backing the subscribe,
	// unsubscribe, and publish queues.
	QueueCapacity int

	// AutoStart controls whether NewSession calls Start itself once the
	// handshake succeeds. Mirrors the reference implementation's
	// start=True constructor argument. Defaults to true; set
	// WithAutoStart(false) to launch the workers later with an explicit
	// call to Session.Start.
	AutoStart bool

	extensions []MessageExtender
}

// Option configures a Session at construction time.
type Option func(*Options)

// WithHTTPClient overrides the *http.Client used for every request. If
// unset, a client with a public-suffix-aware cookie jar is created.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

// WithHTTPTransport overrides the http.RoundTripper used for every
// request, e.g. to inject authentication headers or a test double.
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(o *Options) {
		o.HTTPTransport = transport
	}
}

// WithLogger configures the Session to log through logger instead of a
// no-op Logger.
func WithLogger(logger Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithIgnoreError configures the IgnoreError predicate; errors for which it
// returns true are logged and swallowed instead of killing the session.
func WithIgnoreError(ignore func(error) bool) Option {
	return func(o *Options) {
		o.IgnoreError = ignore
	}
}

// WithSuccessiveTimeoutThreshold overrides how many consecutive timeouts
// the Subscriber/Unsubscriber workers tolerate before failing.
func WithSuccessiveTimeoutThreshold(threshold int) Option {
	return func(o *Options) {
		o.SuccessiveTimeoutThreshold = threshold
	}
}

// WithTimeoutWait overrides, in seconds, how long a worker waits before
// retrying a timed-out request.
func WithTimeoutWait(seconds int) Option {
	return func(o *Options) {
		o.TimeoutWait = seconds
	}
}

// WithQueueCapacity overrides the buffer size of the subscribe,
// unsubscribe, and publish request queues.
func WithQueueCapacity(capacity int) Option {
	return func(o *Options) {
		o.QueueCapacity = capacity
	}
}

// WithExtension registers a MessageExtender on the Session's BayeuxClient.
func WithExtension(ext MessageExtender) Option {
	return func(o *Options) {
		o.extensions = append(o.extensions, ext)
	}
}

// WithAutoStart overrides whether NewSession starts the Connector,
// Subscriber, Unsubscriber, and Publisher workers itself. Pass false to
// defer that to an explicit call to Session.Start.
func WithAutoStart(autoStart bool) Option {
	return func(o *Options) {
		o.AutoStart = autoStart
	}
}

func defaultOptions() *Options {
	return &Options{
		Logger:                     newNullLogger(),
		SuccessiveTimeoutThreshold: 20,
		TimeoutWait:                5,
		QueueCapacity:              10,
		AutoStart:                  true,
	}
}
