package bayeux

// MessageExtender is the interface a Bayeux protocol extension implements.
// Extensions observe and annotate messages as they cross the wire in
// either direction, e.g. attaching a bearer token or a replay id.
type MessageExtender interface {
	// Outgoing is called on every Message about to be sent, in
	// registration order.
	Outgoing(*Message)
	// Incoming is called on every Message just received, in registration
	// order.
	Incoming(*Message)
	// Registered is a hook for an extension being added to a
	// BayeuxClient. BayeuxClient.UseExtension does not call it.
	Registered(extensionName string, client *BayeuxClient)
	// Unregistered is a hook for an extension being removed. BayeuxClient
	// has no way to remove an extension and never calls it.
	Unregistered()
}
