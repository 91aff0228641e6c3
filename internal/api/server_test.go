package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/edge/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	idx := store.NewMemory()
	srv := NewServer(idx, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, idx
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestIdentitiesEndpoint(t *testing.T) {
	ts, idx := newTestServer(t)
	ctx := context.Background()
	_, err := idx.EnsureIdentity(ctx, "did:a")
	require.NoError(t, err)
	require.NoError(t, idx.SetIdentityVerified(ctx, "did:a", true))

	resp, err := http.Get(ts.URL + "/api/identities")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "did:a", got[0]["did"])
	assert.Equal(t, true, got[0]["verified"])
}

func TestReadingsEndpoint(t *testing.T) {
	ts, idx := newTestServer(t)
	ctx := context.Background()
	thing, _ := idx.EnsureThing(ctx, "t")
	ch, _ := idx.EnsureChannel(ctx, thing.ID, "c")
	typ, _ := idx.EnsureSensorType(ctx, "temperature", "C")
	sensor, _ := idx.EnsureSensor(ctx, ch.ID, typ.ID, "s1", "boiler")
	_, _, err := idx.InsertReading(ctx, store.Reading{
		SensorID: sensor.ID, Value: "23.4", Timestamp: 1700000000, MQTT: true,
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/readings/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "23.4", got[0]["value"])
	assert.Equal(t, true, got[0]["mqtt"])
	assert.Equal(t, false, got[0]["verified"])
}

func TestReadingsUnknownSensor(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/readings/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
