package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adwski/room-relay/backend/metrics"
	"github.com/adwski/room-relay/backend/model"
	"github.com/adwski/room-relay/backend/room"
	"github.com/adwski/room-relay/backend/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedName string

func (n fixedName) Next() string { return string(n) }

func newTestServer(t *testing.T) (*Server, *memory.Registry) {
	t.Helper()
	logger := zerolog.Nop()
	reg := memory.NewRegistry(memory.Config{Logger: &logger, Names: fixedName("Amber")})
	srv := NewServer(Config{
		Logger:  &logger,
		Stats:   reg,
		Metrics: metrics.New(reg).Handler(),
		CORS:    NewCORS([]string{"http://app.example"}),
	})
	return srv, reg
}

func do(t *testing.T, srv *Server, method, path string, hdr http.Header) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range hdr {
		r.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"OK"}`, rec.Body.String())
}

func TestReadyReportsOccupancy(t *testing.T) {
	srv, reg := newTestServer(t)

	for _, id := range []string{"a", "b"} {
		_, err := reg.Admit(room.Member{ID: id, Addr: id, Outbox: room.NewOutbox()}, model.JoinWithCode("lobby-"+id))
		require.NoError(t, err)
	}
	_, err := reg.Admit(room.Member{ID: "c", Addr: "c", Outbox: room.NewOutbox()}, model.JoinRoom("lobby-a"))
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data memory.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, memory.Stats{Rooms: 2, Connections: 3}, resp.Data)
}

func TestReadyWithoutRegistry(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewServer(Config{Logger: &logger})

	rec := do(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_rooms_active 0")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", http.Header{"Origin": {"http://app.example"}})
	assert.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, srv, http.MethodGet, "/healthz", http.Header{"Origin": {"http://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, srv, http.MethodOptions, "/healthz", http.Header{
		"Origin":                        {"http://app.example"},
		"Access-Control-Request-Method": {http.MethodGet},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWildcardOrigin(t *testing.T) {
	c := NewCORS([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set("Origin", "http://anything.example")
	assert.True(t, c.OriginAllowed(r))
}

func TestRunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	logger := zerolog.Nop()
	srv := NewServer(Config{Logger: &logger, ListenAddr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	require.Eventually(t, func() bool {
		resp, errG := http.Get("http://" + addr + "/healthz")
		if errG != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Empty(t, errc)
}

func TestRunReportsListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	logger := zerolog.Nop()
	srv := NewServer(Config{Logger: &logger, ListenAddr: l.Addr().String()})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(context.Background(), wg, errc)
	wg.Wait()

	assert.ErrorIs(t, <-errc, ErrUnexpected)
}
