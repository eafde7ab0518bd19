package bayeux

import "strings"

// Channel represents a Bayeux Channel, a string that looks like a URL path
// such as "/foo/bar", "/meta/connect", or "/service/chat".
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for connect messages after a
	// successful handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to
	// channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe from
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"

	emptyChannel Channel = ""
)

// ChannelType distinguishes the three kinds of channel: meta channels
// (starting with "/meta/"), service channels (starting with "/service/"),
// and broadcast channels (everything else).
type ChannelType string

const (
	// MetaChannel represents the "/meta/" channel type.
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the "/service/" channel type.
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels.
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix    string = "/meta/"
	servicePrefix string = "/service/"
)

// Type reports which ChannelType this Channel belongs to.
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// HasWildcard reports whether the Channel ends with * or **.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) HasWildcard() bool {
	return strings.HasSuffix(string(c), "*")
}

// IsValid does its best to check the validity of a Channel.
func (c Channel) IsValid() bool {
	s := string(c)
	if strings.Contains(s, "*") && !c.HasWildcard() {
		return false
	}
	return strings.HasPrefix(s, "/")
}

// Match checks whether other matches this Channel, which may carry a
// trailing wildcard.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) Match(other Channel) bool {
	return c.MatchString(string(other))
}

// MatchString is the string-typed twin of Match.
func (c Channel) MatchString(other string) bool {
	if c.HasWildcard() {
		return c.matchAgainstWildcards(other)
	}
	return string(c) == other
}

func (c Channel) matchAgainstWildcards(other string) bool {
	self := string(c)
	index := strings.LastIndexByte(self, '/')
	if index == -1 {
		return false
	}
	prefix := self[:index]
	if !strings.HasPrefix(other, prefix) {
		return false
	}

	wildcard := self[index+1:]
	rest := other[index+1:]

	switch wildcard {
	case "*":
		return strings.Count(rest, "/") == 0
	case "**":
		return true
	default:
		return false
	}
}
