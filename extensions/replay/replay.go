// Package replay implements the Salesforce Streaming API replay-id
// extension, letting a subscriber resume a channel from a previously
// observed event instead of only the tip of the stream.
//
// See also: https://developer.salesforce.com/docs/atlas.en-us.api_streaming.meta/api_streaming/using_streaming_api_durability.htm
package replay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	bayeux "github.com/WoodyZantzinger/python-bayeux"
)

const (
	// ExtensionName is the Bayeux ext key Salesforce uses for replay ids.
	ExtensionName string = "replay"
	eventKey      string = "event"
	replayIDKey   string = "replayId"

	unsupported int32 = iota
	supported
)

// IDStore stores the last-seen replay id for each subscribed channel.
type IDStore interface {
	Set(channel string, replayID int)
	Get(channel string) (int, bool)
	Delete(channel string)
	AsMap() map[string]int
}

// Extension implements bayeux.MessageExtender, attaching replay ids to
// outgoing subscribe requests and recording them from incoming events.
type Extension struct {
	supportedByServer *int32
	replayStore       IDStore
}

// New creates an Extension backed by store.
func New(store IDStore) *Extension {
	defaultVal := unsupported
	return &Extension{supportedByServer: &defaultVal, replayStore: store}
}

// Outgoing advertises replay support on handshake and attaches the current
// replay map on subscribe, once the server has confirmed support.
func (e *Extension) Outgoing(ms *bayeux.Message) {
	switch ms.Channel {
	case bayeux.MetaHandshake:
		ext := ms.GetExt(true)
		ext[ExtensionName] = true
	case bayeux.MetaSubscribe:
		if e.isSupported() {
			ext := ms.GetExt(true)
			ext[ExtensionName] = e.replayStore.AsMap()
		}
	}
}

// Incoming records server support from the handshake response, drops
// tracked state for unsubscribed channels, and updates the replay id for
// every broadcast event received.
func (e *Extension) Incoming(ms *bayeux.Message) {
	switch ms.Channel.Type() {
	case bayeux.MetaChannel:
		switch ms.Channel {
		case bayeux.MetaHandshake:
			ext := ms.GetExt(false)
			if ext != nil {
				if isSupported, ok := ext[ExtensionName].(bool); ok && isSupported {
					atomic.CompareAndSwapInt32(e.supportedByServer, unsupported, supported)
				}
			}
		case bayeux.MetaUnsubscribe:
			e.replayStore.Delete(string(ms.Subscription))
		}
	case bayeux.BroadcastChannel:
		e.updateReplayID(ms)
	}
}

// Registered implements bayeux.MessageExtender.
func (e *Extension) Registered(extensionName string, client *bayeux.BayeuxClient) {}

// Unregistered implements bayeux.MessageExtender.
func (e *Extension) Unregistered() {}

func (e *Extension) updateReplayID(ms *bayeux.Message) {
	var md *MessageData
	if err := json.Unmarshal(ms.Data, &md); err != nil {
		return
	}

	data := make(map[string]interface{})
	if err := json.Unmarshal([]byte(md.Data), &data); err != nil {
		return
	}
	event, ok := data[eventKey]
	if !ok {
		return
	}
	eventMap, ok := event.(map[string]interface{})
	if !ok {
		return
	}
	replayIDVal, ok := eventMap[replayIDKey]
	if !ok {
		return
	}
	replayID, ok := replayIDVal.(float64)
	if !ok {
		return
	}
	e.replayStore.Set(string(ms.Channel), int(replayID))
}

func (e *Extension) isSupported() bool {
	return atomic.LoadInt32(e.supportedByServer) == supported
}

// MessageData is the CometD binary-data envelope a Message.Data payload is
// wrapped in.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_binary_data
type MessageData struct {
	Data string            `json:"data,omitempty"`
	Last bool              `json:"last,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// MapStorage is an in-memory, mutex-protected IDStore.
type MapStorage struct {
	store map[string]int
	lock  sync.RWMutex
}

// NewMapStorage creates an empty MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[string]int)}
}

// Set implements IDStore.
func (s *MapStorage) Set(channel string, replayID int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[channel] = replayID
}

// Get implements IDStore.
func (s *MapStorage) Get(channel string) (replayID int, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replayID, ok = s.store[channel]
	return
}

// Delete implements IDStore.
func (s *MapStorage) Delete(channel string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.store, channel)
}

// AsMap implements IDStore, returning a defensive copy.
func (s *MapStorage) AsMap() map[string]int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replay := make(map[string]int, len(s.store))
	for k, v := range s.store {
		replay[k] = v
	}
	return replay
}
