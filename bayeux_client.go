package bayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
)

// BayeuxClient is the low-level wire client for a single Bayeux server. It
// knows how to handshake, connect, subscribe, unsubscribe, publish, and
// disconnect; it does not know about workers, callbacks, or recovery —
// that lives in Session, which drives a BayeuxClient.
type BayeuxClient struct {
	stateMachine  *ConnectionStateMachine
	client        *http.Client
	serverAddress *url.URL
	state         *clientState
	exts          []MessageExtender
	logger        Logger
	messageID     uint64
}

// NewBayeuxClient builds a BayeuxClient talking to serverAddress. A nil
// client gets a default http.Client with a public-suffix-aware cookie jar
// so server-set session cookies survive the long-polling loop; a nil
// transport falls back to http.DefaultTransport; a nil logger is a no-op.
func NewBayeuxClient(client *http.Client, transport http.RoundTripper, serverAddress string, logger Logger) (*BayeuxClient, error) {
	if client == nil {
		client = &http.Client{}

		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = transport

	parsedAddress, err := url.Parse(serverAddress)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = newNullLogger()
	}

	return &BayeuxClient{
		stateMachine:  NewConnectionStateMachine(),
		client:        client,
		serverAddress: parsedAddress,
		state:         &clientState{},
		logger:        logger,
	}, nil
}

// nextID returns the next value in the client's monotonic wire-message id
// sequence. The handshake itself consumes the first id, matching the
// reference implementation's behavior of tagging every outbound payload,
// the handshake included.
func (b *BayeuxClient) nextID() string {
	return strconv.FormatUint(atomic.AddUint64(&b.messageID, 1), 10)
}

// Handshake sends the handshake request to the Bayeux server, resetting
// the wire-message id sequence back to 1 before doing so.
func (b *BayeuxClient) Handshake(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "handshake")
	start := time.Now()
	logger.Debug("starting")

	if err := b.stateMachine.ProcessEvent(handshakeSent); err != nil {
		logger.WithError(err).Debug("invalid action for current state")
		return nil, HandshakeFailedError{err}
	}

	atomic.StoreUint64(&b.messageID, 0)

	builder := NewHandshakeRequestBuilder()
	if err := builder.AddVersion("1.0"); err != nil {
		return nil, HandshakeFailedError{err}
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil {
		return nil, HandshakeFailedError{err}
	}
	ms, err := builder.Build()
	if err != nil {
		return nil, HandshakeFailedError{err}
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, HandshakeFailedError{err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		logger.WithError(err).Debug("error parsing response")
		return response, HandshakeFailedError{err}
	}
	if len(response) > 1 {
		return response, HandshakeFailedError{ErrTooManyMessages}
	}

	var message Message
	for _, m := range response {
		if m.Channel == MetaHandshake {
			message = m
		}
	}
	if message.Channel == emptyChannel {
		return response, HandshakeFailedError{ErrBadChannel}
	}
	if !message.Successful {
		b.stateMachine.reset()
		return response, newHandshakeError(message.Error)
	}
	b.state.SetClientID(message.ClientID)
	_ = b.stateMachine.ProcessEvent(successfullyConnected)
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

// Connect sends the long-poll /meta/connect request. Clients must maintain
// only one outstanding connect request at a time.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_meta_connect
func (b *BayeuxClient) Connect(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "connect")
	start := time.Now()
	logger.Debug("starting")

	clientID := b.state.GetClientID()
	if !b.stateMachine.IsConnected() || clientID == "" {
		return nil, ErrClientNotConnected
	}

	builder := NewConnectRequestBuilder()
	builder.AddClientID(clientID)
	_ = builder.AddConnectionType(ConnectionTypeLongPolling)
	ms, err := builder.Build()
	if err != nil {
		return nil, ConnectionFailedError{err}
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, ConnectionFailedError{err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			logger.WithError(err).Debug("connect response was not a JSON array")
			return nil, UnexpectedConnectResponseError{Reason: err.Error()}
		}
		logger.WithError(err).Debug("error parsing response")
		return response, ConnectionFailedError{err}
	}

	for _, m := range response {
		if m.Channel == MetaConnect && !m.Successful {
			return response, ConnectionFailedError{ErrFailedToConnect}
		}
	}
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

// Subscribe issues a /meta/subscribe request for the given channels.
func (b *BayeuxClient) Subscribe(ctx context.Context, subscriptions []Channel) ([]Message, error) {
	logger := b.logger.WithField("at", "subscribe")
	start := time.Now()
	logger.Debug("starting")

	clientID := b.state.GetClientID()
	if !b.stateMachine.IsConnected() || clientID == "" {
		logger.Debug("cannot subscribe because client is not connected")
		return nil, SubscriptionFailedError{subscriptions, ErrClientNotConnected}
	}

	builder := NewSubscribeRequestBuilder()
	builder.AddClientID(clientID)
	for _, s := range subscriptions {
		if err := builder.AddSubscription(s); err != nil {
			return nil, SubscriptionFailedError{subscriptions, err}
		}
	}

	ms, err := builder.Build()
	if err != nil {
		return nil, SubscriptionFailedError{subscriptions, err}
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		return nil, SubscriptionFailedError{subscriptions, err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		return nil, SubscriptionFailedError{subscriptions, err}
	}

	for _, m := range response {
		if m.Channel == MetaSubscribe && !m.Successful {
			return response, SubscriptionFailedError{
				Channels: subscriptions,
				Err:      newSubscribeError(m.Error),
			}
		}
	}
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

// Unsubscribe issues a /meta/unsubscribe request for the given channels.
func (b *BayeuxClient) Unsubscribe(ctx context.Context, subscriptions []Channel) ([]Message, error) {
	clientID := b.state.GetClientID()
	if !b.stateMachine.IsConnected() || clientID == "" {
		return nil, UnsubscribeFailedError{subscriptions, ErrClientNotConnected}
	}

	builder := NewUnsubscribeRequestBuilder()
	builder.AddClientID(clientID)
	for _, s := range subscriptions {
		if err := builder.AddSubscription(s); err != nil {
			return nil, UnsubscribeFailedError{subscriptions, err}
		}
	}

	ms, err := builder.Build()
	if err != nil {
		return nil, UnsubscribeFailedError{subscriptions, err}
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		return nil, UnsubscribeFailedError{subscriptions, err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		return response, UnsubscribeFailedError{subscriptions, err}
	}

	for _, m := range response {
		if m.Channel == MetaUnsubscribe && !m.Successful {
			return response, UnsubscribeFailedError{
				Channels: subscriptions,
				Err:      newUnsubscribeError(m.Error),
			}
		}
	}
	return response, nil
}

// Publish issues a request to a broadcast channel carrying payload as its
// data.
func (b *BayeuxClient) Publish(ctx context.Context, channel Channel, payload interface{}) ([]Message, error) {
	clientID := b.state.GetClientID()
	if !b.stateMachine.IsConnected() || clientID == "" {
		return nil, ErrClientNotConnected
	}

	builder := NewPublishRequestBuilder()
	builder.AddClientID(clientID)
	if err := builder.AddChannel(channel); err != nil {
		return nil, err
	}
	if err := builder.AddData(payload); err != nil {
		return nil, err
	}

	ms, err := builder.Build()
	if err != nil {
		return nil, err
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		return nil, TransportError{err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		return response, err
	}
	for _, m := range response {
		if m.Channel == channel && !m.Successful {
			return response, ProtocolError{Reason: fmt.Sprintf("publish to %q rejected: %s", channel, m.Error)}
		}
	}
	return response, nil
}

// Disconnect sends a /meta/disconnect request, ending the session
// server-side.
func (b *BayeuxClient) Disconnect(ctx context.Context) ([]Message, error) {
	clientID := b.state.GetClientID()
	if !b.stateMachine.IsConnected() || clientID == "" {
		return nil, DisconnectFailedError{ErrClientNotConnected}
	}

	builder := NewDisconnectRequestBuilder()
	builder.AddClientID(clientID)
	ms, err := builder.Build()
	if err != nil {
		return nil, DisconnectFailedError{err}
	}

	resp, err := b.request(ctx, ms)
	if err != nil {
		return nil, DisconnectFailedError{err}
	}

	response, err := b.parseResponse(resp)
	if err != nil {
		return response, DisconnectFailedError{err}
	}

	for _, m := range response {
		if m.Channel == MetaDisconnect && !m.Successful {
			return response, DisconnectFailedError{nil}
		}
	}
	_ = b.stateMachine.ProcessEvent(disconnectSent)
	return response, nil
}

// UseExtension adds ext to the list of known extensions; its
// Outgoing/Incoming hooks run on every subsequent request and response.
func (b *BayeuxClient) UseExtension(ext MessageExtender) error {
	for _, registered := range b.exts {
		if ext == registered {
			return AlreadyRegisteredError{ext}
		}
	}
	b.exts = append(b.exts, ext)
	return nil
}

func (b *BayeuxClient) request(ctx context.Context, ms []Message) (*http.Response, error) {
	for i := range ms {
		ms[i].ID = b.nextID()
		for _, ext := range b.exts {
			ext.Outgoing(&ms[i])
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ms); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverAddress.String(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return b.client.Do(req)
}

func (b *BayeuxClient) parseResponse(resp *http.Response) ([]Message, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, BadResponseError{resp.StatusCode, resp.Status, body}
	}

	messages := make([]Message, 0)
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, err
	}
	for i := range messages {
		for _, ext := range b.exts {
			ext.Incoming(&messages[i])
		}
	}
	return messages, nil
}

type clientState struct {
	clientID string
	lock     sync.RWMutex
}

func (cs *clientState) GetClientID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.clientID
}

func (cs *clientState) SetClientID(clientID string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.clientID = clientID
}
