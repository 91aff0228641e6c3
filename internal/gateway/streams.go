package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trustplane/edge/pb"
)

// StreamsClient adapts the DLT stream service RPC client to the Streams
// interface.
type StreamsClient struct {
	client  pb.StreamsServiceClient
	timeout time.Duration
	log     *slog.Logger
}

// NewStreamsClient wraps a pb client.
func NewStreamsClient(client pb.StreamsServiceClient, timeout time.Duration, log *slog.Logger) *StreamsClient {
	return &StreamsClient{client: client, timeout: timeout, log: log}
}

func (c *StreamsClient) CreateAuthor(ctx context.Context, id string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.CreateAuthor(ctx, &pb.StreamsRequest{Id: id})
	if err != nil {
		return "", fmt.Errorf("streams: create author: %w", err)
	}
	if rep.Code != 0 || rep.Link == "" {
		return "", &ServiceError{Service: "streams", Op: "CreateAuthor", Code: rep.Code}
	}
	c.log.Info("stream announced", "id", id, "announcement_link", rep.Link)
	return rep.Link, nil
}

func (c *StreamsClient) CreateSubscriber(ctx context.Context, id, announcementLink string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.CreateSubscriber(ctx, &pb.StreamsRequest{Id: id, Link: announcementLink})
	if err != nil {
		return "", fmt.Errorf("streams: create subscriber: %w", err)
	}
	if rep.Code != 0 || rep.Link == "" {
		return "", &ServiceError{Service: "streams", Op: "CreateSubscriber", Code: rep.Code}
	}
	return rep.Link, nil
}

func (c *StreamsClient) AddSubscriber(ctx context.Context, id, subscriptionLink string) error {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.AddSubscriber(ctx, &pb.StreamsRequest{Id: id, Link: subscriptionLink})
	if err != nil {
		return fmt.Errorf("streams: add subscriber: %w", err)
	}
	if rep.Code != 0 {
		return &ServiceError{Service: "streams", Op: "AddSubscriber", Code: rep.Code}
	}
	return nil
}

func (c *StreamsClient) CreateKeyload(ctx context.Context, id string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.CreateKeyload(ctx, &pb.StreamsRequest{Id: id})
	if err != nil {
		return "", fmt.Errorf("streams: create keyload: %w", err)
	}
	if rep.Code != 0 || rep.Link == "" {
		return "", &ServiceError{Service: "streams", Op: "CreateKeyload", Code: rep.Code}
	}
	c.log.Info("keyload minted", "id", id, "keyload_link", rep.Link)
	return rep.Link, nil
}

func (c *StreamsClient) ReceiveKeyload(ctx context.Context, id, keyloadLink string) error {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.ReceiveKeyload(ctx, &pb.StreamsRequest{Id: id, Link: keyloadLink})
	if err != nil {
		return fmt.Errorf("streams: receive keyload: %w", err)
	}
	if rep.Code != 0 {
		return &ServiceError{Service: "streams", Op: "ReceiveKeyload", Code: rep.Code}
	}
	return nil
}

func (c *StreamsClient) SendMessage(ctx context.Context, id, prevLink, payload string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.SendMessage(ctx, &pb.StreamsSendRequest{
		Id:          id,
		MessageLink: prevLink,
		Message:     payload,
	})
	if err != nil {
		return "", fmt.Errorf("streams: send message: %w", err)
	}
	if rep.Code != 0 {
		return "", &ServiceError{Service: "streams", Op: "SendMessage", Code: rep.Code}
	}
	return rep.Link, nil
}

func (c *StreamsClient) ReceiveMessages(ctx context.Context, id string) (string, []string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()
	rep, err := c.client.ReceiveMessages(ctx, &pb.StreamsRequest{Id: id})
	if err != nil {
		return "", nil, fmt.Errorf("streams: receive messages: %w", err)
	}
	if rep.Code != 0 {
		return "", nil, &ServiceError{Service: "streams", Op: "ReceiveMessages", Code: rep.Code}
	}
	return rep.Link, rep.Messages, nil
}

var _ Streams = (*StreamsClient)(nil)
