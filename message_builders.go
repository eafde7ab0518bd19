package bayeux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HandshakeRequestBuilder builds requests to /meta/handshake.
//
// See also: https://docs.cometd.org/current/reference/#_handshake_request
type HandshakeRequestBuilder struct {
	version                  string
	supportedConnectionTypes []string
	minimumVersion           string
}

// NewHandshakeRequestBuilder initializes a HandshakeRequestBuilder.
func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{
		supportedConnectionTypes: make([]string, 0),
	}
}

// AddSupportedConnectionType adds a connection type to the handshake
// request, de-duplicating and validating against the known set.
func (b *HandshakeRequestBuilder) AddSupportedConnectionType(connectionType string) error {
	switch connectionType {
	case ConnectionTypeCallbackPolling, ConnectionTypeLongPolling, ConnectionTypeIFrame:
		for _, ct := range b.supportedConnectionTypes {
			if ct == connectionType {
				return nil
			}
		}
		b.supportedConnectionTypes = append(b.supportedConnectionTypes, connectionType)
	default:
		return fmt.Errorf("'%s' is not a valid connection type", connectionType)
	}
	return nil
}

// AddVersion sets the Bayeux protocol version the client supports.
func (b *HandshakeRequestBuilder) AddVersion(version string) error {
	if len(version) < 1 {
		return fmt.Errorf("version '%s' is invalid for Bayeux protocol", version)
	}
	pieces := strings.SplitN(version, ".", 2)
	if _, err := strconv.Atoi(pieces[0]); err != nil {
		return err
	}
	b.version = version
	return nil
}

// AddMinimumVersion sets the minimum protocol version the client accepts.
func (b *HandshakeRequestBuilder) AddMinimumVersion(version string) error {
	if len(version) < 1 {
		return fmt.Errorf("version '%s' is invalid for Bayeux protocol", version)
	}
	pieces := strings.SplitN(version, ".", 2)
	if _, err := strconv.Atoi(pieces[0]); err != nil {
		return err
	}
	b.minimumVersion = version
	return nil
}

// Build generates the Message to be sent as a handshake request.
func (b *HandshakeRequestBuilder) Build() ([]Message, error) {
	if len(b.supportedConnectionTypes) < 1 {
		return nil, ErrNoSupportedConnectionTypes
	}
	if len(b.version) == 0 {
		return nil, ErrNoVersion
	}
	m := Message{
		Channel:                  MetaHandshake,
		Version:                  b.version,
		SupportedConnectionTypes: b.supportedConnectionTypes,
	}
	if len(b.minimumVersion) > 0 {
		m.MinimumVersion = b.minimumVersion
	}
	return []Message{m}, nil
}

// ConnectRequestBuilder builds requests to /meta/connect.
//
// See also: https://docs.cometd.org/current/reference/#_connect_request
type ConnectRequestBuilder struct {
	clientID       string
	connectionType string
}

// NewConnectRequestBuilder initializes a ConnectRequestBuilder.
func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{}
}

// AddClientID sets the clientId the connect request is made on behalf of.
func (b *ConnectRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddConnectionType sets the connection type used for this connection.
func (b *ConnectRequestBuilder) AddConnectionType(connectionType string) error {
	switch connectionType {
	case ConnectionTypeCallbackPolling, ConnectionTypeLongPolling, ConnectionTypeIFrame:
		b.connectionType = connectionType
	default:
		return fmt.Errorf("'%s' is not a valid connection type", connectionType)
	}
	return nil
}

// Build generates the Message to be sent as a connect request.
func (b *ConnectRequestBuilder) Build() ([]Message, error) {
	if b.clientID == "" {
		return nil, ErrMissingClientID
	}
	if b.connectionType == "" {
		return nil, ErrMissingConnectionType
	}
	m := Message{
		Channel:        MetaConnect,
		ClientID:       b.clientID,
		ConnectionType: b.connectionType,
	}
	return []Message{m}, nil
}

// SubscribeRequestBuilder builds requests to /meta/subscribe.
//
// See also: https://docs.cometd.org/current/reference/#_subscribe_request
type SubscribeRequestBuilder struct {
	clientID     string
	subscription []Channel
}

// NewSubscribeRequestBuilder initializes a SubscribeRequestBuilder.
func NewSubscribeRequestBuilder() *SubscribeRequestBuilder {
	return &SubscribeRequestBuilder{subscription: make([]Channel, 0)}
}

// AddClientID sets the clientId the subscribe request is made on behalf of.
func (b *SubscribeRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddSubscription adds a channel to subscribe to, de-duplicating and
// validating the channel name.
func (b *SubscribeRequestBuilder) AddSubscription(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}
	for _, s := range b.subscription {
		if s == c {
			return nil
		}
	}
	b.subscription = append(b.subscription, c)
	return nil
}

// Build generates one Message per subscribed channel.
func (b *SubscribeRequestBuilder) Build() ([]Message, error) {
	if b.clientID == "" {
		return nil, ErrMissingClientID
	}
	if len(b.subscription) < 1 {
		return nil, EmptySliceError("subscriptions")
	}

	ms := make([]Message, len(b.subscription))
	for i := range b.subscription {
		ms[i] = Message{
			Channel:      MetaSubscribe,
			ClientID:     b.clientID,
			Subscription: b.subscription[i],
		}
	}
	return ms, nil
}

// UnsubscribeRequestBuilder builds requests to /meta/unsubscribe.
//
// See also: https://docs.cometd.org/current/reference/#_unsubscribe_request
type UnsubscribeRequestBuilder struct {
	clientID     string
	subscription []Channel
}

// NewUnsubscribeRequestBuilder initializes an UnsubscribeRequestBuilder.
func NewUnsubscribeRequestBuilder() *UnsubscribeRequestBuilder {
	return &UnsubscribeRequestBuilder{subscription: make([]Channel, 0)}
}

// AddClientID sets the clientId the unsubscribe request is made on behalf
// of.
func (b *UnsubscribeRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddSubscription adds a channel to unsubscribe from.
func (b *UnsubscribeRequestBuilder) AddSubscription(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}
	for _, s := range b.subscription {
		if s == c {
			return nil
		}
	}
	b.subscription = append(b.subscription, c)
	return nil
}

// Build generates one Message per channel to unsubscribe from.
func (b *UnsubscribeRequestBuilder) Build() ([]Message, error) {
	if b.clientID == "" {
		return nil, ErrMissingClientID
	}
	if len(b.subscription) < 1 {
		return nil, EmptySliceError("subscriptions")
	}

	ms := make([]Message, len(b.subscription))
	for i := range b.subscription {
		ms[i] = Message{
			Channel:      MetaUnsubscribe,
			ClientID:     b.clientID,
			Subscription: b.subscription[i],
		}
	}
	return ms, nil
}

// DisconnectRequestBuilder builds requests to /meta/disconnect.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_meta_disconnect
type DisconnectRequestBuilder struct {
	clientID string
}

// NewDisconnectRequestBuilder initializes a DisconnectRequestBuilder.
func NewDisconnectRequestBuilder() *DisconnectRequestBuilder {
	return &DisconnectRequestBuilder{}
}

// AddClientID sets the clientId the disconnect request is made on behalf
// of.
func (b *DisconnectRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// Build generates the Message to be sent as a disconnect request.
func (b *DisconnectRequestBuilder) Build() ([]Message, error) {
	if b.clientID == "" {
		return nil, ErrMissingClientID
	}
	return []Message{{Channel: MetaDisconnect, ClientID: b.clientID}}, nil
}

// PublishRequestBuilder builds a publish request to a broadcast channel.
//
// See also: https://docs.cometd.org/current/reference/#_publish_request
type PublishRequestBuilder struct {
	clientID string
	channel  Channel
	data     json.RawMessage
}

// NewPublishRequestBuilder initializes a PublishRequestBuilder.
func NewPublishRequestBuilder() *PublishRequestBuilder {
	return &PublishRequestBuilder{}
}

// AddClientID sets the clientId publishing the message.
func (b *PublishRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddChannel sets the destination channel, which must not be a meta or
// service channel.
func (b *PublishRequestBuilder) AddChannel(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}
	if c.Type() != BroadcastChannel {
		return fmt.Errorf("channel %q is not a broadcast channel and cannot be published to", c)
	}
	b.channel = c
	return nil
}

// AddData marshals v and attaches it as the message payload.
func (b *PublishRequestBuilder) AddData(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to marshal publish payload: %w", err)
	}
	b.data = raw
	return nil
}

// Build generates the Message to be sent as a publish request.
func (b *PublishRequestBuilder) Build() ([]Message, error) {
	if b.clientID == "" {
		return nil, ErrMissingClientID
	}
	if b.channel == emptyChannel {
		return nil, errors.New("no channel provided")
	}
	if len(b.data) == 0 {
		return nil, errors.New("no data provided")
	}
	return []Message{{
		Channel:  b.channel,
		ClientID: b.clientID,
		Data:     b.data,
	}}, nil
}
