package bayeux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Connection types a client may advertise support for during handshake.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_connection_types
const (
	ConnectionTypeLongPolling     string = "long-polling"
	ConnectionTypeCallbackPolling string = "callback-polling"
	ConnectionTypeIFrame          string = "iframe"
)

// Message is a single Bayeux protocol message, sent or received. Not every
// field applies to every channel; see the payload table in §6.
type Message struct {
	// Channel is the channel this message is addressed to or arrived on.
	Channel Channel `json:"channel"`
	// ID is the monotonically increasing request identifier.
	ID string `json:"id,omitempty"`
	// ClientID identifies the session this message belongs to.
	ClientID string `json:"clientId,omitempty"`
	// Data carries the published payload of a broadcast message.
	Data json.RawMessage `json:"data,omitempty"`
	// Ext carries protocol extension metadata.
	Ext map[string]interface{} `json:"ext,omitempty"`

	// Version is the Bayeux protocol version, set on /meta/handshake.
	Version string `json:"version,omitempty"`
	// MinimumVersion is the minimum protocol version a client will accept.
	MinimumVersion string `json:"minimumVersion,omitempty"`
	// SupportedConnectionTypes lists the connection types a client offers.
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	// ConnectionType is the connection type used for a /meta/connect.
	ConnectionType string `json:"connectionType,omitempty"`
	// Subscription is the channel named in a subscribe/unsubscribe request.
	Subscription Channel `json:"subscription,omitempty"`

	// Successful reports whether a meta-request succeeded.
	Successful bool `json:"successful,omitempty"`
	// AuthSuccessful reports whether handshake authentication succeeded.
	AuthSuccessful bool `json:"authSuccessful,omitempty"`
	// Error carries a "code:args:message" formatted failure description.
	Error string `json:"error,omitempty"`
	// Advice carries server guidance on reconnection strategy and timing.
	Advice *Advice `json:"advice,omitempty"`
	// Timestamp is an optional server-supplied ISO-8601 timestamp.
	Timestamp string `json:"timestamp,omitempty"`
}

// GetExt returns the Ext map, optionally allocating one first if it is nil
// and create is true.
func (m *Message) GetExt(create bool) map[string]interface{} {
	if m.Ext == nil && create {
		m.Ext = make(map[string]interface{})
	}
	return m.Ext
}

// TimestampAsTime parses Timestamp as RFC 3339-ish ISO-8601, the format
// Bayeux servers emit.
func (m *Message) TimestampAsTime() (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.00", m.Timestamp)
}

// MessageError is the parsed form of a Bayeux "code:args:message" error
// string, e.g. "403::Unknown client" or "402:xj3s:Unknown Client ID".
//
// See also: https://docs.cometd.org/current/reference/#_code_error_message_formatting
type MessageError struct {
	ErrorCode    int
	ErrorArgs    []string
	ErrorMessage string
}

// ParseError parses m.Error into a MessageError.
func (m *Message) ParseError() (MessageError, error) {
	pieces := strings.SplitN(m.Error, ":", 3)
	if len(pieces) != 3 {
		return MessageError{}, fmt.Errorf("malformed error string: %q", m.Error)
	}
	code, err := strconv.Atoi(pieces[0])
	if err != nil {
		return MessageError{}, fmt.Errorf("malformed error code in %q: %w", m.Error, err)
	}
	var args []string
	if pieces[1] != "" {
		args = strings.Split(pieces[1], ",")
	} else {
		args = []string{""}
	}
	return MessageError{ErrorCode: code, ErrorArgs: args, ErrorMessage: pieces[2]}, nil
}

// Advice carries server guidance on reconnection embedded in /meta/connect
// and /meta/handshake responses.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
type Advice struct {
	// Reconnect is one of "retry", "handshake", or "none".
	Reconnect string `json:"reconnect,omitempty"`
	// Timeout is the server-advised long-poll wait, in milliseconds.
	Timeout int `json:"timeout,omitempty"`
	// Interval is the server-advised delay before retrying, in
	// milliseconds.
	Interval int `json:"interval,omitempty"`
}

// ShouldHandshake reports whether the advice directs the client to
// re-handshake before reconnecting.
func (a Advice) ShouldHandshake() bool {
	return a.Reconnect == "handshake"
}

// ShouldRetry reports whether the advice directs the client to retry the
// same connection without a new handshake.
func (a Advice) ShouldRetry() bool {
	return a.Reconnect == "retry"
}

// MustNotRetryOrHandshake reports whether the advice forbids reconnecting
// at all.
func (a Advice) MustNotRetryOrHandshake() bool {
	return a.Reconnect == "none"
}

// TimeoutAsDuration converts Timeout (milliseconds) to a time.Duration.
func (a Advice) TimeoutAsDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// IntervalAsDuration converts Interval (milliseconds) to a time.Duration.
func (a Advice) IntervalAsDuration() time.Duration {
	return time.Duration(a.Interval) * time.Millisecond
}
