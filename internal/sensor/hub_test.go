package sensor_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/sensor"
)

func TestHubKeepsLatestReading(t *testing.T) {
	hub := sensor.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, ok := hub.Latest()
	assert.False(t, ok)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + sensor.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]float64{"x": 0.5, "y": 0, "z": 1}))
	require.NoError(t, conn.WriteJSON(map[string]float64{"x": 0, "y": 0.1, "z": 0.9}))

	require.Eventually(t, func() bool {
		r, ok := hub.Latest()
		return ok && r.Y == 0.1
	}, time.Second, 5*time.Millisecond)

	r, _ := hub.Latest()
	assert.Equal(t, 0.0, r.X)
	assert.Equal(t, 0.9, r.Z)
	assert.False(t, r.At.IsZero())
	assert.Equal(t, 1, hub.Clients())
}

func TestHubIgnoresGarbageAndDisconnects(t *testing.T) {
	hub := sensor.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	conn.Close()

	_, ok := hub.Latest()
	assert.False(t, ok)
}

func TestHubDropsEmptyReadings(t *testing.T) {
	hub := sensor.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + sensor.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	require.NoError(t, conn.WriteJSON(map[string]float64{"x": 0, "y": 0, "z": 0}))
	require.NoError(t, conn.WriteJSON(map[string]float64{"x": 0.2, "y": 0, "z": 0.9}))

	require.Eventually(t, func() bool {
		_, ok := hub.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	r, _ := hub.Latest()
	assert.Equal(t, 0.2, r.X, "only the gravity sample is kept")
}

func TestHubUpdate(t *testing.T) {
	hub := sensor.NewHub(nil)
	hub.Update(gate.Reading{Z: 1})

	r, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Z)
	assert.False(t, r.At.IsZero())
}
