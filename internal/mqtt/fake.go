package mqtt

// Published is one recorded publish.
type Published struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakeClient records client calls for test assertions.
type FakeClient struct {
	// Connected controls the return value of IsConnected.
	Connected bool

	// ConnectError, if set, will be returned by Connect.
	ConnectError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Connects counts Connect calls.
	Connects int

	// Disconnects counts Disconnect calls.
	Disconnects int

	// Subscriptions contains every subscribed topic in order.
	Subscriptions []string

	// Published contains every publish in order.
	Published []Published

	// Log records connect, subscribe and publish calls as "connect",
	// "sub <topic>" and "pub <topic>" in the order they happened.
	Log []string

	// Inbox holds messages returned by the next Receive.
	Inbox []Message
}

// NewFakeClient creates a FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// Connect records the call and marks the client connected.
func (f *FakeClient) Connect() error {
	f.Connects++
	f.Log = append(f.Log, "connect")
	if f.ConnectError != nil {
		return f.ConnectError
	}
	f.Connected = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Subscribe records the topic.
func (f *FakeClient) Subscribe(topic string) error {
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.Subscriptions = append(f.Subscriptions, topic)
	f.Log = append(f.Log, "sub "+topic)
	return nil
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, payload []byte, retained bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Published{Topic: topic, Payload: payload, Retained: retained})
	f.Log = append(f.Log, "pub "+topic)
	return nil
}

// Receive returns and clears Inbox.
func (f *FakeClient) Receive() []Message {
	msgs := f.Inbox
	f.Inbox = nil
	return msgs
}

// Deliver queues an inbound message.
func (f *FakeClient) Deliver(topic, payload string) {
	f.Inbox = append(f.Inbox, Message{Topic: topic, Payload: []byte(payload)})
}

// Disconnect marks the client disconnected.
func (f *FakeClient) Disconnect() {
	f.Disconnects++
	f.Connected = false
}

// PublishedTo returns the publishes to topic, in order.
func (f *FakeClient) PublishedTo(topic string) []Published {
	var out []Published
	for _, p := range f.Published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Reset clears recorded calls and injected errors.
func (f *FakeClient) Reset() {
	*f = FakeClient{Connected: f.Connected}
}
