// Package bayeux provides a client for the Bayeux publish/subscribe
// protocol over HTTP long-polling, the transport CometD and the Salesforce
// Streaming API use.
//
// The best way to create a client is with NewSession. Provided a server
// address, a Session handshakes and performs an initial connect before
// returning, then starts its background workers and maintains a
// long-polling connection. Construct with WithAutoStart(false) to defer
// that start and call Session.Start yourself once you're ready.
//
//	session, err := bayeux.NewSession(ctx, "https://example.com/cometd")
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
// You can subscribe to a channel with a callback to receive messages on
//
//	session.Subscribe("/example/channel", func(ctx context.Context, msg bayeux.Message) {
//		log.Println(string(msg.Data))
//	})
//
// Call Go to run the dispatcher in the background, or Block to run it
// inline and wait for the session to end:
//
//	_ = session.Go(ctx)
//	// ... do other work ...
//	session.Close()
//
// You can also register extensions that you'd like to use with the server
// by implementing the MessageExtender interface and passing it to
// NewSession with WithExtension:
//
//	type Example struct{}
//	func (e *Example) Registered(name string, client *bayeux.BayeuxClient) {}
//	func (e *Example) Unregistered()                                       {}
//	func (e *Example) Outgoing(m *bayeux.Message) {
//		switch m.Channel {
//		case bayeux.MetaHandshake:
//			ext := m.GetExt(true)
//			ext["example"] = true
//		}
//	}
//	func (e *Example) Incoming(m *bayeux.Message) {}
//
//	session, err := bayeux.NewSession(ctx, serverAddress, bayeux.WithExtension(&Example{}))
package bayeux
