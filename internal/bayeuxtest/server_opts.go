package bayeuxtest

// ServerOpts configures a Server at construction time.
type ServerOpts interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

// WithHandshakeError makes every /meta/handshake request fail with a 400.
func WithHandshakeError(handshakeError bool) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.handshakeError = handshakeError
	})
}

// WithUnknownClientOnConnect makes the nth /meta/connect request from any
// given client (1-indexed) fail with "403::Unknown client" and
// advice.reconnect "handshake", simulating a server that has forgotten the
// client's session and forcing the Connector's recovery path.
func WithUnknownClientOnConnect(nthConnect int) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.unknownClientAt = nthConnect
	})
}

// WithMalformedConnectResponse makes every /meta/connect request receive a
// top-level JSON object instead of the array Bayeux requires, simulating a
// broken server so callers can exercise UnexpectedConnectResponseError.
func WithMalformedConnectResponse(malformed bool) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.malformedConnectResponse = malformed
	})
}
