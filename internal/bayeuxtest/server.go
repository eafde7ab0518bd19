// Package bayeuxtest provides an in-memory Bayeux server implemented as an
// http.RoundTripper, so tests can drive a real Session without opening a
// socket.
package bayeuxtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	bayeux "github.com/WoodyZantzinger/python-bayeux"
)

var defaultAdvice = &bayeux.Advice{
	Reconnect: "retry",
	Timeout:   int(30 * time.Second / time.Millisecond),
	Interval:  int(1 * time.Second / time.Millisecond),
}

var handshakeAdvice = &bayeux.Advice{
	Reconnect: "handshake",
}

type Logger interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

// Server is a fake Bayeux server. It tracks per-client subscriptions and
// can be configured, via ServerOpts, to simulate the failures a real
// Session must recover from.
type Server struct {
	log Logger

	mu      sync.Mutex
	running bool
	subs    map[string][]bayeux.Channel

	handshakeError           bool
	unknownClientAt          int
	malformedConnectResponse bool
	connectCallCounts        map[string]int
	pendingPush              map[string][]json.RawMessage
	forcedPush               map[string][]json.RawMessage
}

// NewServer builds a Server. Call Start before using it as a RoundTripper.
func NewServer(logger Logger, opts ...ServerOpts) *Server {
	server := &Server{
		log:               logger,
		subs:              make(map[string][]bayeux.Channel),
		connectCallCounts: make(map[string]int),
		pendingPush:       make(map[string][]json.RawMessage),
		forcedPush:        make(map[string][]json.RawMessage),
		unknownClientAt:   -1,
	}
	for _, opt := range opts {
		opt.apply(server)
	}
	return server
}

func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *Server) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Push queues a raw data payload to be delivered on channel's next
// /meta/connect round trip, to every client currently subscribed.
func (s *Server) Push(channel bayeux.Channel, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPush[string(channel)] = append(s.pendingPush[string(channel)], data)
}

// PushUnsubscribed queues data to be delivered on channel's next
// /meta/connect round trip to every connecting client, regardless of
// whether that client ever subscribed to channel. It simulates a server
// that (incorrectly) delivers an event for a channel the client never
// subscribed to, so tests can exercise the fatal ProtocolError a Session
// raises for exactly that case.
func (s *Server) PushUnsubscribed(channel bayeux.Channel, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedPush[string(channel)] = append(s.forcedPush[string(channel)], data)
}

func (s *Server) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, errors.New("bayeuxtest: server not running")
	}

	defer func() {
		if err := req.Body.Close(); err != nil && s.log != nil {
			s.log.Logf("could not close test server request body: %+v", err)
		}
	}()

	var msgs []*bayeux.Message
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("issue reading body (%w)", err)
	}
	if err := json.Unmarshal(body, &msgs); err != nil {
		return &http.Response{
			StatusCode: http.StatusUnprocessableEntity,
			Status:     http.StatusText(http.StatusUnprocessableEntity),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}

	replies := []*bayeux.Message{}
	statusCode := http.StatusOK

	for _, msg := range msgs {
		switch {
		case msg.Channel == bayeux.MetaHandshake:
			if s.handshakeError {
				return &http.Response{
					StatusCode: http.StatusBadRequest,
					Status:     http.StatusText(http.StatusBadRequest),
					Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":"invalid handshake"}`))),
				}, nil
			}
			replies = append(replies, &bayeux.Message{
				Channel:                  bayeux.MetaHandshake,
				Version:                  msg.Version,
				SupportedConnectionTypes: msg.SupportedConnectionTypes,
				ClientID:                 generateID(10),
				Successful:               true,
				AuthSuccessful:           true,
				Advice:                   defaultAdvice,
				ID:                       msg.ID,
			})
			delete(s.connectCallCounts, msg.ClientID)

		case msg.Channel == bayeux.MetaConnect:
			s.connectCallCounts[msg.ClientID]++

			if s.malformedConnectResponse {
				return &http.Response{
					StatusCode: http.StatusOK,
					Status:     http.StatusText(http.StatusOK),
					Body:       io.NopCloser(bytes.NewReader([]byte(`{"channel":"/meta/connect","successful":true}`))),
					Header:     make(http.Header),
				}, nil
			}

			if s.unknownClientAt >= 0 && s.connectCallCounts[msg.ClientID] == s.unknownClientAt {
				replies = append(replies, &bayeux.Message{
					Channel:    bayeux.MetaConnect,
					ID:         msg.ID,
					ClientID:   msg.ClientID,
					Successful: false,
					Error:      "403::Unknown client",
					Advice:     handshakeAdvice,
				})
				break
			}

			for _, ch := range s.subs[msg.ClientID] {
				for _, data := range s.pendingPush[string(ch)] {
					replies = append(replies, &bayeux.Message{
						Channel:    ch,
						ID:         generateID(5),
						ClientID:   msg.ClientID,
						Data:       data,
						Successful: true,
					})
				}
			}
			for ch := range s.pendingPush {
				delete(s.pendingPush, ch)
			}

			for ch, datas := range s.forcedPush {
				for _, data := range datas {
					replies = append(replies, &bayeux.Message{
						Channel:    bayeux.Channel(ch),
						ID:         generateID(5),
						ClientID:   msg.ClientID,
						Data:       data,
						Successful: true,
					})
				}
			}
			for ch := range s.forcedPush {
				delete(s.forcedPush, ch)
			}

			replies = append(replies, &bayeux.Message{
				Channel:    bayeux.MetaConnect,
				Successful: true,
				ClientID:   msg.ClientID,
				Advice:     defaultAdvice,
				ID:         msg.ID,
			})

		case msg.Channel == bayeux.MetaSubscribe:
			reply := &bayeux.Message{
				Channel:      bayeux.MetaSubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}
			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					statusCode = http.StatusBadRequest
					reply.Successful = false
					reply.Error = "403::already subscribed"
				}
			}
			if reply.Successful {
				s.subs[msg.ClientID] = append(s.subs[msg.ClientID], msg.Subscription)
			}
			replies = append(replies, reply)

		case msg.Channel == bayeux.MetaUnsubscribe:
			reply := &bayeux.Message{
				Channel:      bayeux.MetaUnsubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}
			found := false
			remaining := []bayeux.Channel{}
			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					found = true
					continue
				}
				remaining = append(remaining, ch)
			}
			s.subs[msg.ClientID] = remaining
			if !found {
				statusCode = http.StatusBadRequest
				reply.Successful = false
				reply.Error = "403::not subscribed"
			}
			replies = append(replies, reply)

		case msg.Channel == bayeux.MetaDisconnect:
			delete(s.subs, msg.ClientID)
			delete(s.connectCallCounts, msg.ClientID)
			replies = append(replies, &bayeux.Message{
				Channel:    bayeux.MetaDisconnect,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
			})

		default:
			// A publish to a broadcast channel: acknowledge it and, if
			// any other client is subscribed, deliver it on the next connect.
			reply := &bayeux.Message{
				Channel:    msg.Channel,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
			}
			replies = append(replies, reply)
			for clientID, channels := range s.subs {
				if clientID == msg.ClientID {
					continue
				}
				for _, ch := range channels {
					if ch == msg.Channel {
						s.pendingPush[string(ch)] = append(s.pendingPush[string(ch)], msg.Data)
					}
				}
			}
		}
	}

	reply, err := json.Marshal(replies)
	if err != nil {
		return nil, fmt.Errorf("issue marshaling body (%w)", err)
	}

	return &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Body:       io.NopCloser(bytes.NewReader(reply)),
		Header:     make(http.Header),
	}, nil
}

var chars = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

func generateID(length int) string {
	ret := make([]rune, length)
	for i := range ret {
		ret[i] = chars[rand.Intn(len(chars))]
	}
	return string(ret)
}
