package intake

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/pb"
)

func newService(t *testing.T) (*Service, *store.Memory, store.Sensor) {
	t.Helper()
	ctx := context.Background()
	idx := store.NewMemory()
	thing, err := idx.EnsureThing(ctx, "thing-1")
	require.NoError(t, err)
	ch, err := idx.EnsureChannel(ctx, thing.ID, "chan-1")
	require.NoError(t, err)
	typ, err := idx.EnsureSensorType(ctx, "temperature", "C")
	require.NoError(t, err)
	sensor, err := idx.EnsureSensor(ctx, ch.ID, typ.ID, "s1", "boiler")
	require.NoError(t, err)

	svc := New(idx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go svc.Run(runCtx)
	return svc, idx, sensor
}

func TestSubmitReadingPersistsPending(t *testing.T) {
	svc, idx, sensor := newService(t)
	ctx := context.Background()

	rep, err := svc.SubmitReading(ctx, &pb.SensorReading{
		SensorId: "s1", Value: "23.4", Unit: "C", Timestamp: 1700000000,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), rep.Code)

	row, err := idx.ReadingAt(ctx, sensor.ID, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "23.4", row.Value)
	assert.False(t, row.MQTT)
	assert.False(t, row.Iota)
	assert.False(t, row.Verified)
}

func TestSubmitReadingUnknownSensorRejected(t *testing.T) {
	svc, idx, _ := newService(t)
	ctx := context.Background()

	rep, err := svc.SubmitReading(ctx, &pb.SensorReading{
		SensorId: "nope", Value: "1", Timestamp: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), rep.Code)

	sensor, err := idx.SensorByKey(ctx, "s1")
	require.NoError(t, err)
	rows, err := idx.ReadingsBySensor(ctx, sensor.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitReadingDuplicateIsIdempotent(t *testing.T) {
	svc, idx, sensor := newService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rep, err := svc.SubmitReading(ctx, &pb.SensorReading{
			SensorId: "s1", Value: "23.4", Timestamp: 1700000000,
		})
		require.NoError(t, err)
		assert.Equal(t, int32(0), rep.Code)
	}

	rows, err := idx.ReadingsBySensor(ctx, sensor.ID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
