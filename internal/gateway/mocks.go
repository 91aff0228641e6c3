package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Mock gateway implementations for tests and local experiments. The
// function fields allow per-test behavior; unset fields fall back to a
// permissive default that records calls.

// MockIdentity implements Identity.
type MockIdentity struct {
	mu sync.Mutex

	CreateFn func(vc string) (string, string, error)
	ProofFn  func(did, challenge, vc string) (string, error)
	VerifyFn func(did, challenge, signedVC string) (bool, error)

	CreateCalls int
	ProofCalls  int
	VerifyCalls int
}

func (m *MockIdentity) CreateIdentity(ctx context.Context, vc string) (string, string, error) {
	m.mu.Lock()
	m.CreateCalls++
	m.mu.Unlock()
	if m.CreateFn != nil {
		return m.CreateFn(vc)
	}
	return "did:mock:self", vc, nil
}

func (m *MockIdentity) ProofIdentity(ctx context.Context, did, challenge, vc string) (string, error) {
	m.mu.Lock()
	m.ProofCalls++
	m.mu.Unlock()
	if m.ProofFn != nil {
		return m.ProofFn(did, challenge, vc)
	}
	return "signed:" + vc, nil
}

func (m *MockIdentity) VerifyIdentity(ctx context.Context, did, challenge, signedVC string) (bool, error) {
	m.mu.Lock()
	m.VerifyCalls++
	m.mu.Unlock()
	if m.VerifyFn != nil {
		return m.VerifyFn(did, challenge, signedVC)
	}
	return true, nil
}

// MockStreams implements Streams.
type MockStreams struct {
	mu sync.Mutex

	CreateAuthorFn     func(id string) (string, error)
	CreateSubscriberFn func(id, annLink string) (string, error)
	AddSubscriberFn    func(id, subLink string) error
	CreateKeyloadFn    func(id string) (string, error)
	ReceiveKeyloadFn   func(id, keyLink string) error
	SendMessageFn      func(id, prevLink, payload string) (string, error)
	ReceiveMessagesFn  func(id string) (string, []string, error)

	AddSubscriberCalls int
	SendCalls          int
	Sent               []string
}

func (m *MockStreams) CreateAuthor(ctx context.Context, id string) (string, error) {
	if m.CreateAuthorFn != nil {
		return m.CreateAuthorFn(id)
	}
	return "ann:" + id, nil
}

func (m *MockStreams) CreateSubscriber(ctx context.Context, id, annLink string) (string, error) {
	if m.CreateSubscriberFn != nil {
		return m.CreateSubscriberFn(id, annLink)
	}
	return "sub:" + id, nil
}

func (m *MockStreams) AddSubscriber(ctx context.Context, id, subLink string) error {
	m.mu.Lock()
	m.AddSubscriberCalls++
	m.mu.Unlock()
	if m.AddSubscriberFn != nil {
		return m.AddSubscriberFn(id, subLink)
	}
	return nil
}

func (m *MockStreams) CreateKeyload(ctx context.Context, id string) (string, error) {
	if m.CreateKeyloadFn != nil {
		return m.CreateKeyloadFn(id)
	}
	return "key:" + id, nil
}

func (m *MockStreams) ReceiveKeyload(ctx context.Context, id, keyLink string) error {
	if m.ReceiveKeyloadFn != nil {
		return m.ReceiveKeyloadFn(id, keyLink)
	}
	return nil
}

func (m *MockStreams) SendMessage(ctx context.Context, id, prevLink, payload string) (string, error) {
	m.mu.Lock()
	m.SendCalls++
	m.Sent = append(m.Sent, payload)
	n := m.SendCalls
	m.mu.Unlock()
	if m.SendMessageFn != nil {
		return m.SendMessageFn(id, prevLink, payload)
	}
	return fmt.Sprintf("msg:%d", n), nil
}

func (m *MockStreams) ReceiveMessages(ctx context.Context, id string) (string, []string, error) {
	if m.ReceiveMessagesFn != nil {
		return m.ReceiveMessagesFn(id)
	}
	return "", nil, nil
}

// Published is one message recorded by MockBroker.
type Published struct {
	Channel string
	Topic   string
	Payload []byte
}

// MockBroker implements Broker with an inbox per channel and a record
// of everything published.
type MockBroker struct {
	mu        sync.Mutex
	inbox     map[string][]InboundMessage
	Publishes []Published

	PublishFn func(channel, topic string, payload []byte) error
	ReceiveFn func(channel string) ([]InboundMessage, error)
}

func (m *MockBroker) Publish(ctx context.Context, channel, topic string, payload []byte) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(channel, topic, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Publishes = append(m.Publishes, Published{Channel: channel, Topic: topic, Payload: payload})
	return nil
}

func (m *MockBroker) Receive(ctx context.Context, channel string) ([]InboundMessage, error) {
	if m.ReceiveFn != nil {
		return m.ReceiveFn(channel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.inbox[channel]
	if m.inbox != nil {
		delete(m.inbox, channel)
	}
	return msgs, nil
}

// Enqueue places a message in the channel inbox, to be drained by the
// next Receive.
func (m *MockBroker) Enqueue(channel, topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inbox == nil {
		m.inbox = make(map[string][]InboundMessage)
	}
	m.inbox[channel] = append(m.inbox[channel], InboundMessage{Topic: topic, Payload: payload})
}

// PublishedOn returns the recorded payloads for a topic.
func (m *MockBroker) PublishedOn(topic string) []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Published
	for _, p := range m.Publishes {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

var (
	_ Identity = (*MockIdentity)(nil)
	_ Streams  = (*MockStreams)(nil)
	_ Broker   = (*MockBroker)(nil)
)
