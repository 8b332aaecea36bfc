package mqtt

// Message is one inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Client is the broker client collaborator. All calls are bounded: none of
// them may wait indefinitely on the network.
type Client interface {
	// Connect opens the session. The last-will is registered by the client
	// at construction.
	Connect() error

	// IsConnected reports whether the session is up.
	IsConnected() bool

	// Subscribe adds topic to the session's subscriptions.
	Subscribe(topic string) error

	// Publish sends payload to topic.
	Publish(topic string, payload []byte, retained bool) error

	// Receive returns the messages received since the previous call, oldest first.
	Receive() []Message

	// Disconnect closes the session.
	Disconnect()
}
