package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trustplane/edge/pb"
)

// BrokerClient adapts the broker bridge RPC client to the Broker
// interface, carrying the thing credentials on every call.
type BrokerClient struct {
	client   pb.BrokerServiceClient
	thingKey string
	thingPwd string
	timeout  time.Duration
	log      *slog.Logger
}

// NewBrokerClient wraps a pb client with the thing credentials.
func NewBrokerClient(client pb.BrokerServiceClient, thingKey, thingPwd string, timeout time.Duration, log *slog.Logger) *BrokerClient {
	return &BrokerClient{
		client:   client,
		thingKey: thingKey,
		thingPwd: thingPwd,
		timeout:  timeout,
		log:      log,
	}
}

func (c *BrokerClient) Publish(ctx context.Context, channel, topic string, payload []byte) error {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.Publish(ctx, &pb.BrokerPublishRequest{
		Id:      c.thingKey,
		Pwd:     c.thingPwd,
		Channel: channel,
		Topic:   topic,
		Message: payload,
	})
	if err != nil {
		return fmt.Errorf("broker: publish %s/%s: %w", channel, topic, err)
	}
	if rep.Code != 0 {
		return &ServiceError{Service: "broker", Op: "Publish", Code: rep.Code}
	}
	c.log.Debug("published", "channel", channel, "topic", topic, "bytes", len(payload))
	return nil
}

func (c *BrokerClient) Receive(ctx context.Context, channel string) ([]InboundMessage, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.Receive(ctx, &pb.BrokerReceiveRequest{
		Id:      c.thingKey,
		Pwd:     c.thingPwd,
		Channel: channel,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: receive %s: %w", channel, err)
	}
	if rep.Code != 0 {
		return nil, &ServiceError{Service: "broker", Op: "Receive", Code: rep.Code}
	}
	n := len(rep.Messages)
	if len(rep.Topics) < n {
		n = len(rep.Topics)
	}
	out := make([]InboundMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, InboundMessage{Topic: rep.Topics[i], Payload: rep.Messages[i]})
	}
	return out, nil
}

var _ Broker = (*BrokerClient)(nil)
