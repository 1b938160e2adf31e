package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSimulation(t *testing.T, cfg *simConfig, hub *Hub, reg *prometheus.Registry) *simulation {
	t.Helper()
	logger := testLogger()
	sim, err := newSimulation(cfg, store.NewMemoryStore(), reg, hub, logrusFactory{logger: logger}, logger)
	require.NoError(t, err)
	require.NoError(t, sim.start())
	t.Cleanup(sim.stop)
	return sim
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSimulationReliableRoundTrip(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Traffic.Reliable = true

	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Close()

	reg := prometheus.NewRegistry()
	sim := newTestSimulation(t, cfg, hub, reg)

	var once sync.Once
	done := make(chan struct{})
	sim.bridges[0].setOnMessage(func(e networking.MeshMessageEvent) {
		if e.Opcode == 0x8204 {
			once.Do(func() { close(done) })
		}
	})

	require.NoError(t, sim.sendOnce())
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("no response from second node")
	}

	st := sim.status()
	require.Len(t, st, 2)
	assert.Equal(t, "0x0001", st[0].Address)
	assert.Equal(t, "Running", st[0].State)
	assert.Greater(t, st[0].SequenceNumber, uint32(1))
}

func TestSimulationRun(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Traffic.Interval = 20 * time.Millisecond

	sim := newTestSimulation(t, cfg, nil, prometheus.NewRegistry())

	var (
		mu       sync.Mutex
		received int
	)
	sim.bridges[0].setOnMessage(func(e networking.MeshMessageEvent) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	sim.run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, received, 0)
}

func TestHTTPHandler(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Close()

	reg := prometheus.NewRegistry()
	sim := newTestSimulation(t, cfg, hub, reg)

	srv := httptest.NewServer(newHandler(reg, hub, sim.status))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st []status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Len(t, st, 2)
	assert.Equal(t, "0x0002", st[1].Address)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `blemesh_sequence_number{node="0x0001"}`)
}

func TestEventsWebsocket(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Close()

	reg := prometheus.NewRegistry()
	sim := newTestSimulation(t, cfg, hub, reg)

	srv := httptest.NewServer(newHandler(reg, hub, sim.status))
	defer srv.Close()
	conn := dialEvents(t, srv)

	// Registration is asynchronous; keep sending until a message event
	// reaches the client.
	conn.SetReadDeadline(time.Now().Add(waitFor))
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sim.sendOnce()
			}
		}
	}()

	for {
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "message" && ev.Node == "0x0002" {
			payload, ok := ev.Payload.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "0x0001", payload["source"])
			return
		}
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(testLogger())
	// Run is not started, so the buffer fills and Publish must not block.
	for i := 0; i < 300; i++ {
		hub.Publish(event{Type: "tx"})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestLogrusFactory(t *testing.T) {
	logger := testLogger()
	logger.SetLevel(logrus.DebugLevel)
	var buf strings.Builder
	logger.SetOutput(&buf)

	l := logrusFactory{logger: logger}.NewLogger("networking")
	l.Debugf("seq=%d", 5)
	l.Trace("hidden")

	out := buf.String()
	assert.Contains(t, out, "seq=5")
	assert.Contains(t, out, "module=networking")
	assert.NotContains(t, out, "hidden")
}
