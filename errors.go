package bayeux

import (
	"fmt"
)

const (
	// ErrClientNotConnected is returned when an operation requires an
	// active connection but none exists.
	ErrClientNotConnected = sentinel("client not connected to server")

	// ErrTooManyMessages is returned when a handshake response contains
	// more than one message.
	ErrTooManyMessages = sentinel("more messages than expected in handshake response")

	// ErrBadChannel is returned when a handshake response arrives on the
	// wrong channel.
	ErrBadChannel = sentinel("handshake responses must come back via the /meta/handshake channel")

	// ErrFailedToConnect is a general connect failure.
	ErrFailedToConnect = sentinel("connect request was not successful")

	// ErrNoSupportedConnectionTypes is returned when client and server
	// cannot agree on a connection type.
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")

	// ErrNoVersion is returned when a version is not provided.
	ErrNoVersion = sentinel("no version specified")

	// ErrMissingClientID is returned when the client id has not been set.
	ErrMissingClientID = sentinel("missing clientID value")

	// ErrMissingConnectionType is returned when the connection type is
	// unset.
	ErrMissingConnectionType = sentinel("missing connectionType value")

	// ErrSessionShuttingDown is returned by Subscribe/Unsubscribe/Publish
	// once Shutdown has been called.
	ErrSessionShuttingDown = sentinel("session is shutting down")

	// ErrSessionAlreadyStarted is returned by Go when it is called more
	// than once.
	ErrSessionAlreadyStarted = sentinel("session is already running")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// ConnectionFailedError is returned whenever Connect fails.
type ConnectionFailedError struct {
	Err error
}

func (e ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed (%s)", e.Err)
}

func (e ConnectionFailedError) Unwrap() error {
	return e.Err
}

// HandshakeFailedError is returned whenever a handshake fails.
type HandshakeFailedError struct {
	Err error
}

func (e HandshakeFailedError) Error() string {
	return e.Err.Error()
}

func (e HandshakeFailedError) Unwrap() error {
	return e.Err
}

func newHandshakeError(msg string) *HandshakeFailedError {
	return &HandshakeFailedError{fmt.Errorf("handshake was not successful: %s", msg)}
}

// SubscriptionFailedError is returned for failures on Subscribe.
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscription failed (%s)", e.Err)
}

func (e SubscriptionFailedError) Unwrap() error {
	return e.Err
}

// UnsubscribeFailedError is returned for failures on Unsubscribe.
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("unsubscribe failed (%s)", e.Err)
}

func (e UnsubscribeFailedError) Unwrap() error {
	return e.Err
}

// ActionFailedError is a general purpose error returned by BayeuxClient.
type ActionFailedError struct {
	Action       string
	ErrorMessage string
}

func (e ActionFailedError) Error() string {
	return fmt.Sprintf("unable to %s channels: %s", e.Action, e.ErrorMessage)
}

func newSubscribeError(msg string) *ActionFailedError {
	return &ActionFailedError{"subscribe to", msg}
}

func newUnsubscribeError(msg string) *ActionFailedError {
	return &ActionFailedError{"unsubscribe from", msg}
}

// DisconnectFailedError is returned when Disconnect fails.
type DisconnectFailedError struct {
	Err error
}

func (e DisconnectFailedError) Error() string {
	msg := "unable to disconnect from Bayeux server"
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, e.Err)
}

func (e DisconnectFailedError) Unwrap() error {
	return e.Err
}

// AlreadyRegisteredError reports that a MessageExtender is already
// registered with the client.
type AlreadyRegisteredError struct {
	MessageExtender
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %s", e.MessageExtender)
}

// BadResponseError is returned when the server responds with an unexpected
// HTTP status.
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status '%s' and body '%s'",
		e.StatusCode, e.Status, e.Body,
	)
}

// BadConnectionTypeError is returned for an unsupported connection type.
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned for an unsupported protocol
// version.
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// InvalidChannelError reports a Channel that failed validation.
type InvalidChannelError struct {
	Channel
}

func (e InvalidChannelError) Error() string {
	return fmt.Sprintf("channel %q appears to not be a valid channel", e.Channel)
}

// EmptySliceError is returned when an empty slice is unexpected.
type EmptySliceError string

func (e EmptySliceError) Error() string {
	return fmt.Sprintf("no %s provided", string(e))
}

// ErrMessageUnparsable is returned when an error string fails to parse.
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// BadStateError is returned when a state machine transition is invalid.
type BadStateError struct {
	CurrentState int32
	FromState    int32
	ToState      int32
	Message      string
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("%s, (current: %s, from: %s, to: %s)", e.Message, stateName(e.CurrentState), stateName(e.FromState), stateName(e.ToState))
}

// BadHandshakeError is returned when Handshake is called while not
// unconnected.
type BadHandshakeError struct {
	*BadStateError
}

func newBadHandshakeError(current, from, to int32) *BadHandshakeError {
	return &BadHandshakeError{&BadStateError{
		Message:      "attempting to handshake but not in unconnected state",
		CurrentState: current,
		FromState:    from,
		ToState:      to,
	}}
}

// BadConnectionError is returned when a successful-connect event arrives
// while not connecting.
type BadConnectionError struct {
	*BadStateError
}

func newBadConnectionError(current, from, to int32) *BadConnectionError {
	return &BadConnectionError{&BadStateError{
		Message:      "invalid state for successful connect response event",
		CurrentState: current,
		FromState:    from,
		ToState:      to,
	}}
}

// UnknownEventTypeError is returned when a state machine Event is not
// recognized.
type UnknownEventTypeError struct {
	Event
}

func (e UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type (%q)", e.Event)
}

// ProtocolError reports an unexpected wire message: an event delivered for
// a channel with no registered subscriber, or a publish the server
// rejected. Malformed handshake responses are reported as
// HandshakeFailedError instead.
type ProtocolError struct {
	Reason string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("bayeux protocol error: %s", e.Reason)
}

// TransportError wraps a failure from the underlying http.Client, such as a
// network timeout on a long poll.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// RepeatedTimeoutError is returned once a worker has exceeded the
// configured successive-timeout threshold without a successful round
// trip, and the session gives up rather than retrying forever.
type RepeatedTimeoutError struct {
	Worker string
	Count  int
}

func (e RepeatedTimeoutError) Error() string {
	return fmt.Sprintf("%s: %d successive timeouts exceeded the configured threshold", e.Worker, e.Count)
}

// UnexpectedConnectResponseError is returned when a /meta/connect response
// body does not parse as the JSON array of Messages Bayeux requires (for
// example, a single JSON object), so the client has nothing it can safely
// interpret as advice or a delivered event.
type UnexpectedConnectResponseError struct {
	Reason string
}

func (e UnexpectedConnectResponseError) Error() string {
	return fmt.Sprintf("unexpected connect response: %s", e.Reason)
}
