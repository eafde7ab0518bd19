package bayeux

import (
	"context"
	"errors"
	"testing"

	"github.com/WoodyZantzinger/python-bayeux/internal/bayeuxtest"
)

type stubLogger struct{ t *testing.T }

func (l stubLogger) Log(args ...any)                 { l.t.Log(args...) }
func (l stubLogger) Logf(format string, args ...any) { l.t.Logf(format, args...) }

func newTestClient(t *testing.T, opts ...bayeuxtest.ServerOpts) (*BayeuxClient, *bayeuxtest.Server) {
	t.Helper()
	server := bayeuxtest.NewServer(stubLogger{t}, opts...)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("starting mock server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	client, err := NewBayeuxClient(nil, server, "https://example.com/cometd", nil)
	if err != nil {
		t.Fatalf("NewBayeuxClient: %v", err)
	}
	return client, server
}

func TestBayeuxClient_HandshakeSuccess(t *testing.T) {
	client, _ := newTestClient(t)

	messages, err := client.Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(messages) != 1 || messages[0].Channel != MetaHandshake {
		t.Fatalf("unexpected handshake response: %+v", messages)
	}
	if !client.stateMachine.IsConnected() {
		t.Error("expected state machine to be connected after handshake")
	}
	if client.state.GetClientID() == "" {
		t.Error("expected a client id to be assigned")
	}
}

func TestBayeuxClient_HandshakeFailure(t *testing.T) {
	client, _ := newTestClient(t, bayeuxtest.WithHandshakeError(true))

	_, err := client.Handshake(context.Background())
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if client.stateMachine.IsConnected() {
		t.Error("expected state machine to remain unconnected after a failed handshake")
	}
}

func TestBayeuxClient_ConnectRequiresHandshake(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Connect(context.Background()); err != ErrClientNotConnected {
		t.Errorf("expected ErrClientNotConnected, got %v", err)
	}
}

func TestBayeuxClient_ConnectRejectsNonArrayResponse(t *testing.T) {
	client, _ := newTestClient(t, bayeuxtest.WithMalformedConnectResponse(true))
	if _, err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	_, err := client.Connect(context.Background())
	var unexpected UnexpectedConnectResponseError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected UnexpectedConnectResponseError, got %v (%T)", err, err)
	}
}

func TestBayeuxClient_SubscribeAndUnsubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	if _, err := client.Subscribe(context.Background(), []Channel{"/example/channel"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Subscribing to the same channel again should be rejected by the
	// mock server (already subscribed).
	if _, err := client.Subscribe(context.Background(), []Channel{"/example/channel"}); err == nil {
		t.Error("expected duplicate subscribe to fail")
	}

	if _, err := client.Unsubscribe(context.Background(), []Channel{"/example/channel"}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	// Unsubscribing from a channel we're no longer subscribed to should
	// also be rejected.
	if _, err := client.Unsubscribe(context.Background(), []Channel{"/example/channel"}); err == nil {
		t.Error("expected duplicate unsubscribe to fail")
	}
}

func TestBayeuxClient_PublishAndDisconnect(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	if _, err := client.Publish(context.Background(), "/example/channel", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if client.stateMachine.IsConnected() {
		t.Error("expected state machine to be unconnected after disconnect")
	}
}

func TestBayeuxClient_NextIDResetsOnHandshake(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("first Handshake: %v", err)
	}
	firstID := client.nextID()
	if firstID != "2" {
		t.Errorf("expected the first id issued after handshake to be 2 (handshake itself consumed 1), got %s", firstID)
	}

	// A connected client must be reset to unconnected before it can
	// handshake again, as Session's recovery path does.
	client.stateMachine.reset()
	if _, err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("second Handshake: %v", err)
	}
	secondID := client.nextID()
	if secondID != "2" {
		t.Errorf("expected the id sequence to reset on re-handshake, got %s", secondID)
	}
}

func TestBayeuxClient_UseExtensionRejectsDuplicates(t *testing.T) {
	client, _ := newTestClient(t)
	ext := &noopExtension{}

	if err := client.UseExtension(ext); err != nil {
		t.Fatalf("UseExtension: %v", err)
	}
	if err := client.UseExtension(ext); err == nil {
		t.Error("expected registering the same extension twice to fail")
	}
}

type noopExtension struct{}

func (e *noopExtension) Outgoing(*Message)                {}
func (e *noopExtension) Incoming(*Message)                {}
func (e *noopExtension) Registered(string, *BayeuxClient) {}
func (e *noopExtension) Unregistered()                    {}
