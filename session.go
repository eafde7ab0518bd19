package bayeux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"
)

// unknownClientErrorString is the literal Bayeux error string that signals
// the server has forgotten this client's session and a re-handshake is
// required. Recovery is driven by this exact comparison (plus the
// accompanying advice), not by the general-purpose MessageError parser,
// which exists for diagnostics only.
const unknownClientErrorString = "403::Unknown client"

// connectTimeoutSlack is added to the server-advised connect timeout
// before it is used as this client's own read deadline for /meta/connect,
// so a server that replies right at its own advertised deadline isn't
// mistaken for an unresponsive one.
const connectTimeoutSlack = 10 * time.Second

// requestTimeout bounds the subscribe, unsubscribe, and publish requests.
// The handshake and the /meta/disconnect sent by Shutdown run without it.
const requestTimeout = 30 * time.Second

type dispatcherContextKey struct{}

// publication is a queued publish request awaiting the Publisher worker.
type publication struct {
	channel Channel
	payload interface{}
}

// Session is a long-lived Bayeux client: it handshakes once, maintains a
// long-polling connection, dispatches pushed events to per-channel
// callbacks, and recovers transparently from server-side session loss.
//
// A Session's core workers (Connector, Subscriber, Unsubscriber,
// Publisher) are managed by a single tomb.Tomb. The Dispatcher runs
// separately so Shutdown can be called safely from within a callback it
// is driving (see shutdown's handling of dispatcherContextKey).
type Session struct {
	client        *BayeuxClient
	subscriptions *subscriptionTable
	opts          *Options
	logger        Logger

	t      *tomb.Tomb
	ctx    context.Context
	cancel context.CancelFunc

	connectTimeout time.Duration

	inbox              chan []Message
	subscribeQueue     chan Channel
	unsubscribeQueue   chan Channel
	publishQueue       chan publication
	recoveryInProgress atomic.Bool

	startCalled atomic.Bool

	executing      atomic.Bool
	goCalled       atomic.Bool
	dispatcherDone chan struct{}

	shutdownCalled    atomic.Bool
	shutdownCompleted atomic.Bool
	shutdownComplete  chan struct{}
}

// NewSession creates a Session against endpoint, performing the handshake
// and the initial /meta/connect synchronously before returning. If the
// handshake fails, no workers are started and the returned error describes
// the failure. Unless Options.AutoStart is false (see WithAutoStart), the
// background workers are also started before NewSession returns; otherwise
// the caller must start them itself with Session.Start.
func NewSession(ctx context.Context, endpoint string, opts ...Option) (*Session, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	client, err := NewBayeuxClient(options.HTTPClient, options.HTTPTransport, endpoint, options.Logger)
	if err != nil {
		return nil, err
	}
	for _, ext := range options.extensions {
		if err := client.UseExtension(ext); err != nil {
			return nil, err
		}
	}

	if _, err := client.Handshake(ctx); err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:           client,
		subscriptions:    newSubscriptionTable(),
		opts:             options,
		logger:           options.Logger,
		t:                new(tomb.Tomb),
		ctx:              sessionCtx,
		cancel:           cancel,
		inbox:            make(chan []Message, options.QueueCapacity),
		subscribeQueue:   make(chan Channel, options.QueueCapacity),
		unsubscribeQueue: make(chan Channel, options.QueueCapacity),
		publishQueue:     make(chan publication, options.QueueCapacity),
		dispatcherDone:   make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}

	// The initial connect exists only to learn the server's advised
	// timeout; its messages (if any) are not delivered anywhere, matching
	// the reference implementation.
	initial, err := client.Connect(ctx)
	if err == nil {
		for _, m := range initial {
			if m.Channel == MetaConnect && m.Successful && m.Advice != nil {
				s.connectTimeout = m.Advice.TimeoutAsDuration()
			}
		}
	}
	// An unsuccessful initial connect is left undecided, matching the
	// reference implementation: connectTimeout stays zero and the
	// Connector's first real /meta/connect runs without one. No
	// automatic retry is attempted here.

	if options.AutoStart {
		s.Start()
	}

	return s, nil
}

// Start launches the Connector, Subscriber, Unsubscriber, and Publisher
// workers, mirroring the reference implementation's start(). It is
// idempotent: calling it more than once has no effect after the first
// call. When Options.AutoStart (the default) is true, NewSession calls
// Start itself; construct with WithAutoStart(false) to control when the
// workers begin.
func (s *Session) Start() {
	if !s.startCalled.CompareAndSwap(false, true) {
		return
	}
	s.t.Go(s.connector)
	s.t.Go(s.subscriber)
	s.t.Go(s.unsubscriber)
	s.t.Go(s.publisher)

	go s.superviseFailure()
}

// superviseFailure waits for any core worker to die and, mirroring the
// reference implementation's exception sink, triggers a best-effort
// Shutdown, swallowing any error that occurs while already shutting down.
func (s *Session) superviseFailure() {
	<-s.t.Dying()
	if err := s.t.Err(); err != nil && !errors.Is(err, tomb.ErrStillAlive) {
		s.logger.WithError(err).Warn("a session worker failed, shutting down")
	}
	_ = s.Shutdown(context.Background())
}

// Subscribe registers cb to be invoked for every event delivered on
// channel. Multiple callbacks may be registered against the same channel;
// they run in registration order. The wire /meta/subscribe request is
// only sent the first time a channel gains a callback.
func (s *Session) Subscribe(channel Channel, cb Callback) error {
	if s.shutdownCalled.Load() {
		return ErrSessionShuttingDown
	}
	if isNew := s.subscriptions.add(channel, cb); isNew {
		select {
		case s.subscribeQueue <- channel:
		case <-s.ctx.Done():
			return ErrSessionShuttingDown
		}
	}
	return nil
}

// Unsubscribe requests removal of channel's subscription. The callback
// table entry is removed once the server confirms the unsubscribe; an event
// for channel still waiting in the inbox at that point finds no callback,
// and the Dispatcher treats it as a fatal ProtocolError.
func (s *Session) Unsubscribe(channel Channel) error {
	if s.shutdownCalled.Load() {
		return ErrSessionShuttingDown
	}
	select {
	case s.unsubscribeQueue <- channel:
	case <-s.ctx.Done():
		return ErrSessionShuttingDown
	}
	return nil
}

// Publish queues payload to be published to channel. Marshal failures are
// returned immediately; transport failures are logged by the Publisher
// worker and not retried, since publishing during a recovered session
// offers no reliable way to know whether the original attempt landed.
func (s *Session) Publish(channel Channel, payload interface{}) error {
	if s.shutdownCalled.Load() {
		return ErrSessionShuttingDown
	}
	if !channel.IsValid() || channel.Type() != BroadcastChannel {
		return InvalidChannelError{channel}
	}
	if err := NewPublishRequestBuilder().AddData(payload); err != nil {
		return err
	}
	select {
	case s.publishQueue <- publication{channel: channel, payload: payload}:
	case <-s.ctx.Done():
		return ErrSessionShuttingDown
	}
	return nil
}

// Go starts the Dispatcher in the background and returns immediately,
// mirroring the reference implementation's go(). Calling it more than
// once reports ErrSessionAlreadyStarted.
func (s *Session) Go(ctx context.Context) error {
	if !s.goCalled.CompareAndSwap(false, true) {
		return ErrSessionAlreadyStarted
	}
	go func() {
		_ = s.Block(ctx)
	}()
	// Give the dispatcher goroutine a chance to mark itself executing, so
	// a later Block() call observes it correctly.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Block runs the Dispatcher inline if it is not already running
// (returning when the session ends), or, if a Dispatcher is already
// running via Go, blocks until the session ends.
func (s *Session) Block(ctx context.Context) error {
	if s.executing.CompareAndSwap(false, true) {
		defer close(s.dispatcherDone)
		s.dispatch(ctx)
	} else {
		<-s.t.Dead()
	}
	if err := s.t.Err(); err != nil && !errors.Is(err, tomb.ErrStillAlive) {
		return err
	}
	return nil
}

// dispatch is the Dispatcher: it drains the inbox and invokes every
// registered callback for each message's channel, in registration order,
// pausing while a recovery (re-handshake and resubscribe) is in flight. An
// event naming a channel with no registered callback is a fatal protocol
// invariant violation (events must only arrive for subscribed channels); it
// kills the session with a ProtocolError rather than being silently
// dropped.
func (s *Session) dispatch(ctx context.Context) {
	for {
		select {
		case <-s.t.Dying():
			return
		case messages, ok := <-s.inbox:
			if !ok {
				return
			}
			for s.recoveryInProgress.Load() {
				select {
				case <-s.t.Dying():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
			for _, m := range messages {
				callbacks := s.subscriptions.callbacks(m.Channel)
				if len(callbacks) == 0 {
					s.t.Kill(ProtocolError{Reason: fmt.Sprintf("event delivered for channel %q with no registered subscriber", m.Channel)})
					return
				}
				dispatchCtx := context.WithValue(ctx, dispatcherContextKey{}, true)
				for _, cb := range callbacks {
					cb(dispatchCtx, m)
				}
			}
		}
	}
}

// connector runs the long-poll loop, feeding pushed events to the inbox
// and triggering recovery when the server reports the client's session
// has been forgotten.
func (s *Session) connector() error {
	for {
		select {
		case <-s.t.Dying():
			return nil
		default:
		}

		connectCtx := s.ctx
		var cancel context.CancelFunc
		if s.connectTimeout > 0 {
			connectCtx, cancel = context.WithTimeout(s.ctx, s.connectTimeout+connectTimeoutSlack)
		}
		messages, err := s.client.Connect(connectCtx)
		if cancel != nil {
			cancel()
		}

		var pushed []Message
		handshakeRequired := false
		for _, m := range messages {
			if m.Channel == MetaConnect {
				if !m.Successful && m.Error == unknownClientErrorString {
					if m.Advice != nil && m.Advice.ShouldHandshake() {
						handshakeRequired = true
					}
				}
				continue
			}
			pushed = append(pushed, m)
		}

		// An unsuccessful /meta/connect comes back as an error together with
		// the server's reply; the unknown-client case goes on to recovery.
		if err != nil && !handshakeRequired {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Debug("connect timed out, retrying")
				continue
			}
			if s.ignoreable(err) {
				s.logger.WithError(err).Warn("ignoring connect error")
				continue
			}
			return err
		}

		if len(pushed) > 0 {
			select {
			case s.inbox <- pushed:
			case <-s.t.Dying():
				return nil
			}
		}

		if handshakeRequired {
			if err := s.recover(s.ctx); err != nil {
				return err
			}
		}
	}
}

// recover re-handshakes and resubscribes every currently registered
// channel, gating the Dispatcher for the duration. This mirrors the
// reference implementation's _resubscribe: snapshot, clear, rebuild.
func (s *Session) recover(ctx context.Context) error {
	s.recoveryInProgress.Store(true)
	defer s.recoveryInProgress.Store(false)

	s.client.stateMachine.reset()
	if _, err := s.client.Handshake(ctx); err != nil {
		return HandshakeFailedError{err}
	}

	snapshot := s.subscriptions.snapshot()
	s.subscriptions.clear()
	for channel, callbacks := range snapshot {
		for _, cb := range callbacks {
			if err := s.Subscribe(channel, cb); err != nil {
				return err
			}
		}
	}
	return nil
}

// subscriber drains the subscribe queue, issuing one /meta/subscribe
// request per channel and retrying on transport timeouts up to the
// configured threshold.
func (s *Session) subscriber() error {
	successiveTimeouts := 0
	for {
		select {
		case <-s.t.Dying():
			return nil
		case channel := <-s.subscribeQueue:
			ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
			_, err := s.client.Subscribe(ctx, []Channel{channel})
			cancel()

			switch {
			case err == nil:
				successiveTimeouts = 0
			case errors.Is(err, context.DeadlineExceeded):
				successiveTimeouts++
				if successiveTimeouts > s.opts.SuccessiveTimeoutThreshold {
					return RepeatedTimeoutError{Worker: "subscribe", Count: successiveTimeouts}
				}
				s.sleepOrDie(time.Duration(s.opts.TimeoutWait) * time.Second)
				s.requeue(s.subscribeQueue, channel)
			case isUnknownClientError(err):
				// connect() will eventually notice and re-handshake; just
				// try this subscription again afterward.
				s.requeue(s.subscribeQueue, channel)
			default:
				if s.ignoreable(err) {
					s.logger.WithError(err).Warn("ignoring subscribe error")
					continue
				}
				return err
			}
		}
	}
}

// unsubscriber drains the unsubscribe queue, issuing one
// /meta/unsubscribe request per channel and removing the channel from the
// callback table only once the server confirms it.
func (s *Session) unsubscriber() error {
	successiveTimeouts := 0
	for {
		select {
		case <-s.t.Dying():
			return nil
		case channel := <-s.unsubscribeQueue:
			ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
			_, err := s.client.Unsubscribe(ctx, []Channel{channel})
			cancel()

			switch {
			case err == nil:
				successiveTimeouts = 0
				s.subscriptions.remove(channel)
			case errors.Is(err, context.DeadlineExceeded):
				successiveTimeouts++
				if successiveTimeouts > s.opts.SuccessiveTimeoutThreshold {
					return RepeatedTimeoutError{Worker: "unsubscribe", Count: successiveTimeouts}
				}
				s.sleepOrDie(time.Duration(s.opts.TimeoutWait) * time.Second)
				s.requeue(s.unsubscribeQueue, channel)
			default:
				if s.ignoreable(err) {
					s.logger.WithError(err).Warn("ignoring unsubscribe error")
					continue
				}
				return err
			}
		}
	}
}

// publisher drains the publish queue, issuing a publish request per
// queued payload. A failure is logged and dropped rather than retried:
// the caller has no reliable way to know whether a retried publish would
// be a duplicate.
func (s *Session) publisher() error {
	for {
		select {
		case <-s.t.Dying():
			return nil
		case pub := <-s.publishQueue:
			ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
			_, err := s.client.Publish(ctx, pub.channel, pub.payload)
			cancel()
			if err != nil {
				s.logger.WithError(err).Warn("publish failed, dropping")
			}
		}
	}
}

func (s *Session) requeue(queue chan Channel, channel Channel) {
	select {
	case queue <- channel:
	case <-s.t.Dying():
	}
}

func (s *Session) sleepOrDie(d time.Duration) {
	select {
	case <-time.After(d):
	case <-s.t.Dying():
	}
}

func (s *Session) ignoreable(err error) bool {
	return s.opts.IgnoreError != nil && s.opts.IgnoreError(err)
}

func isUnknownClientError(err error) bool {
	return strings.Contains(err.Error(), unknownClientErrorString)
}

// Shutdown stops every worker and disconnects from the server. It is
// idempotent: calling it more than once, or concurrently, is safe and the
// later callers simply wait for the first call to finish.
//
// If ctx carries the dispatcherContextKey value set by dispatch (meaning
// Shutdown was called from within a callback the Dispatcher itself is
// running), the wait for the Dispatcher to finish is skipped, since the
// Dispatcher goroutine cannot join itself without deadlocking.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.shutdownCalled.CompareAndSwap(false, true) {
		<-s.shutdownComplete
		return nil
	}
	defer close(s.shutdownComplete)

	s.logger.Info("session is shutting down")
	s.t.Kill(nil)
	s.cancel()

	calledFromDispatcher, _ := ctx.Value(dispatcherContextKey{}).(bool)
	if s.executing.Load() && !calledFromDispatcher {
		<-s.dispatcherDone
	}

	_ = s.t.Wait()

	if _, err := s.client.Disconnect(context.Background()); err != nil {
		s.logger.WithError(err).Warn("disconnect failed during shutdown, ignoring")
	}

	s.shutdownCompleted.Store(true)
	return nil
}

// Close is a convenience wrapper around Shutdown using context.Background.
func (s *Session) Close() error {
	return s.Shutdown(context.Background())
}

// ShutdownComplete reports whether Shutdown has finished running, disconnect
// included. It returns false while a Shutdown call is still in progress or
// has not been made yet.
func (s *Session) ShutdownComplete() bool {
	return s.shutdownCompleted.Load()
}
