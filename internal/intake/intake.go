// Package intake receives sensor readings from driver processes and
// persists them as pending rows. Drivers talk to the node over the
// sensor adapter gRPC service; internally every submission crosses a
// request/reply channel into a single writer goroutine, which keeps one
// writer for every driver-submitted reading.
package intake

import (
	"context"
	"log/slog"

	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/pb"
)

// Status codes returned to drivers.
const (
	codeOK             = 0
	codeSensorUnknown  = 1
	codePersistFailure = 2
)

type request struct {
	reading *pb.SensorReading
	reply   chan *pb.SensorReply
}

// Service implements pb.SensorAdapterServer.
type Service struct {
	idx store.Index
	ch  chan request
	log *slog.Logger
}

// New creates an intake service over the index.
func New(idx store.Index, log *slog.Logger) *Service {
	return &Service{
		idx: idx,
		ch:  make(chan request, 64),
		log: log,
	}
}

// SubmitReading queues one reading for persistence and waits for the
// writer's verdict.
func (s *Service) SubmitReading(ctx context.Context, in *pb.SensorReading) (*pb.SensorReply, error) {
	req := request{reading: in, reply: make(chan *pb.SensorReply, 1)}
	select {
	case s.ch <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drains the request channel until ctx is cancelled. Readings from
// sensors absent from the catalog are rejected, not persisted.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.ch:
			req.reply <- s.persist(ctx, req.reading)
		}
	}
}

func (s *Service) persist(ctx context.Context, in *pb.SensorReading) *pb.SensorReply {
	sensor, err := s.idx.SensorByKey(ctx, in.SensorId)
	if err != nil {
		s.log.Warn("reading from unknown sensor", "sensor", in.SensorId)
		return &pb.SensorReply{Status: "sensor not found", Code: codeSensorUnknown}
	}
	_, inserted, err := s.idx.InsertReading(ctx, store.Reading{
		SensorID:  sensor.ID,
		Value:     in.Value,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		s.log.Error("reading not persisted", "sensor", in.SensorId, "error", err)
		return &pb.SensorReply{Status: "persistence failure", Code: codePersistFailure}
	}
	if !inserted {
		// Same (sensor, timestamp) seen before; idempotent for drivers.
		return &pb.SensorReply{Status: "duplicate", Code: codeOK}
	}
	s.log.Debug("reading accepted", "sensor", in.SensorId, "timestamp", in.Timestamp)
	return &pb.SensorReply{Status: "ok", Code: codeOK}
}

var _ pb.SensorAdapterServer = (*Service)(nil)
