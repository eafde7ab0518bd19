package bayeux_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	bayeux "github.com/WoodyZantzinger/python-bayeux"
	"github.com/WoodyZantzinger/python-bayeux/internal/bayeuxtest"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Log(args ...any)                 { l.t.Log(args...) }
func (l testLogger) Logf(format string, args ...any) { l.t.Logf(format, args...) }

func newTestSession(t *testing.T, opts ...bayeux.Option) (*bayeux.Session, *bayeuxtest.Server) {
	t.Helper()
	server := bayeuxtest.NewServer(testLogger{t})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("starting mock server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	allOpts := append([]bayeux.Option{bayeux.WithHTTPTransport(server)}, opts...)
	session, err := bayeux.NewSession(context.Background(), "https://example.com/cometd", allOpts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session, server
}

func TestNewSession_HandshakeFailure(t *testing.T) {
	server := bayeuxtest.NewServer(testLogger{t}, bayeuxtest.WithHandshakeError(true))
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("starting mock server: %v", err)
	}
	defer func() { _ = server.Stop(context.Background()) }()

	_, err := bayeux.NewSession(context.Background(), "https://example.com/cometd", bayeux.WithHTTPTransport(server))
	if err == nil {
		t.Fatal("expected NewSession to fail when handshake fails")
	}
}

func TestSession_SubscribeReceivesPush(t *testing.T) {
	session, server := newTestSession(t)

	received := make(chan bayeux.Message, 1)
	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		received <- msg
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	server.Push("/example/channel", json.RawMessage(`{"hello":"world"}`))

	select {
	case msg := <-received:
		if string(msg.Data) != `{"hello":"world"}` {
			t.Errorf("unexpected data: %s", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pushed message")
	}
}

func TestSession_SubscribeSecondCallbackSameChannel(t *testing.T) {
	session, server := newTestSession(t)

	var mu sync.Mutex
	var calls []int

	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		mu.Lock()
		calls = append(calls, 1)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		mu.Lock()
		calls = append(calls, 2)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	server.Push("/example/channel", json.RawMessage(`{}`))

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both callbacks to run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls[0] != 1 || calls[1] != 2 {
		t.Errorf("callbacks did not run in registration order: %v", calls)
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	session, _ := newTestSession(t)

	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := session.Unsubscribe("/example/channel"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
}

func TestSession_PublishRejectsMetaChannel(t *testing.T) {
	session, _ := newTestSession(t)

	err := session.Publish(bayeux.MetaConnect, map[string]string{"x": "y"})
	if err == nil {
		t.Fatal("expected Publish to a meta channel to fail")
	}
}

func TestSession_Publish(t *testing.T) {
	session, _ := newTestSession(t)

	if err := session.Publish("/example/publish", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestSession_GoTwiceReportsAlreadyStarted(t *testing.T) {
	session, _ := newTestSession(t)

	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("first Go: %v", err)
	}
	if err := session.Go(context.Background()); err != bayeux.ErrSessionAlreadyStarted {
		t.Fatalf("expected ErrSessionAlreadyStarted, got %v", err)
	}
}

func TestSession_RecoversFromUnknownClient(t *testing.T) {
	server := bayeuxtest.NewServer(testLogger{t}, bayeuxtest.WithUnknownClientOnConnect(2))
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("starting mock server: %v", err)
	}
	defer func() { _ = server.Stop(context.Background()) }()

	session, err := bayeux.NewSession(context.Background(), "https://example.com/cometd", bayeux.WithHTTPTransport(server))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer func() { _ = session.Close() }()

	received := make(chan bayeux.Message, 1)
	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		select {
		case received <- msg:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	// Give the Connector time to hit the simulated unknown-client response
	// and recover (re-handshake, resubscribe) before pushing a message
	// that should only be deliverable once recovery has completed.
	time.Sleep(500 * time.Millisecond)
	server.Push("/example/channel", json.RawMessage(`{"after":"recovery"}`))

	select {
	case msg := <-received:
		if string(msg.Data) != `{"after":"recovery"}` {
			t.Errorf("unexpected data: %s", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message after recovery")
	}
}

func TestSession_ShutdownIdempotent(t *testing.T) {
	session, _ := newTestSession(t)

	if err := session.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !session.ShutdownComplete() {
		t.Error("expected ShutdownComplete to be true after Close")
	}
}

func TestSession_ShutdownFromWithinCallbackDoesNotDeadlock(t *testing.T) {
	session, server := newTestSession(t)

	done := make(chan struct{})
	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		// Calling Shutdown synchronously, from the very callback the
		// Dispatcher is invoking, would deadlock if Shutdown waited for
		// the Dispatcher to finish unconditionally: the Dispatcher can't
		// finish until this callback returns, and this callback can't
		// return until Shutdown does.
		_ = session.Shutdown(ctx)
		close(done)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	server.Push("/example/channel", json.RawMessage(`{}`))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown called from within a callback deadlocked")
	}
}

func TestSession_AutoStartFalseRequiresExplicitStart(t *testing.T) {
	session, server := newTestSession(t, bayeux.WithAutoStart(false))

	received := make(chan bayeux.Message, 1)
	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
		select {
		case received <- msg:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	// With AutoStart false, the Connector/Subscriber/Unsubscriber/Publisher
	// workers never ran, so the queued Subscribe never reached the server
	// and a push can't be delivered yet.
	server.Push("/example/channel", json.RawMessage(`{"too":"early"}`))
	select {
	case msg := <-received:
		t.Fatalf("received message before Start was called: %v", msg)
	case <-time.After(300 * time.Millisecond):
	}

	session.Start()
	// A second Start call must be a no-op, not a second set of workers.
	session.Start()

	server.Push("/example/channel", json.RawMessage(`{"after":"start"}`))
	select {
	case msg := <-received:
		if string(msg.Data) != `{"after":"start"}` {
			t.Errorf("unexpected data: %s", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message after Start")
	}
}

func TestSession_DispatchKillsSessionOnUnregisteredChannel(t *testing.T) {
	session, server := newTestSession(t)

	if err := session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := session.Go(context.Background()); err != nil {
		t.Fatalf("Go: %v", err)
	}

	// The server delivers an event for a channel the Session never
	// subscribed to; dispatch must treat this as a fatal protocol
	// violation rather than silently dropping it.
	server.PushUnsubscribed("/never/subscribed", json.RawMessage(`{}`))

	deadline := time.After(5 * time.Second)
	for {
		if session.ShutdownComplete() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for session to shut down after unregistered-channel event")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSession_OperationsAfterShutdownFail(t *testing.T) {
	session, _ := newTestSession(t)

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := session.Subscribe("/x", func(context.Context, bayeux.Message) {}); err != bayeux.ErrSessionShuttingDown {
		t.Errorf("Subscribe after shutdown: got %v, want ErrSessionShuttingDown", err)
	}
	if err := session.Publish("/x", nil); err != bayeux.ErrSessionShuttingDown {
		t.Errorf("Publish after shutdown: got %v, want ErrSessionShuttingDown", err)
	}
}
