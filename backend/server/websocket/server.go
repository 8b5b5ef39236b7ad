package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/room-relay/backend/metrics"
	"github.com/adwski/room-relay/backend/model"
	"github.com/adwski/room-relay/backend/room"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 65536
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	RoomService interface {
		Join(m room.Member, rq model.RoomRequest) (*room.Room, error)
		Leave(m room.Member)
	}

	// OriginChecker decides whether a browser origin may open a relay session.
	// *cors.Cors satisfies it.
	OriginChecker interface {
		OriginAllowed(r *http.Request) bool
	}

	Config struct {
		Logger      *zerolog.Logger
		RoomService RoomService
		Metrics     *metrics.Metrics
		Origins     OriginChecker
		ListenAddr  string

		MaxMessageSize int64
		// PingInterval == 0 disables keepalive pings and read deadlines.
		PingInterval time.Duration
		PongWait     time.Duration
	}

	Server struct {
		svc     RoomService
		ws      *websocket.Upgrader
		metrics *metrics.Metrics
		*http.Server

		// sessions outlive their HTTP request, so they hang off this context
		// instead and are cancelled on shutdown
		sessionsCtx  context.Context
		stopSessions context.CancelFunc
		sessions     *sync.WaitGroup

		logger zerolog.Logger

		maxMessageSize int64
		pingInterval   time.Duration
		pongWait       time.Duration
	}
)

func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		logger:       cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:          cfg.RoomService,
		metrics:      cfg.Metrics,
		sessionsCtx:  ctx,
		stopSessions: cancel,
		sessions:     &sync.WaitGroup{},

		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
	}
	if srv.maxMessageSize <= 0 {
		srv.maxMessageSize = defaultWebSocketMaxMessageSize
	}
	if srv.pingInterval > 0 && srv.pongWait <= srv.pingInterval {
		srv.pongWait = srv.pingInterval + srv.pingInterval/2
	}
	srv.ws = &websocket.Upgrader{
		HandshakeTimeout: defaultWebSocketHandshakeTimeout,
		ReadBufferSize:   defaultWebsocketReadBufferSize,
		WriteBufferSize:  defaultWebsocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins == nil || r.Header.Get("Origin") == "" {
				return true
			}
			return cfg.Origins.OriginAllowed(r)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.relay)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error, 1)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		srv.stopSessions()
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
		srv.CloseSessions(shCtx)
	}
}

// CloseSessions tells every live session to close and waits for them until
// ctx expires.
func (srv *Server) CloseSessions(ctx context.Context) {
	srv.stopSessions()

	done := make(chan struct{})
	go func() {
		srv.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		srv.logger.Debug().Msg("all sessions closed")
	case <-ctx.Done():
		srv.logger.Warn().Msg("sessions did not close in time")
	}
}

func (srv *Server) relay(w http.ResponseWriter, r *http.Request) {
	if srv.sessionsCtx.Err() != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	srv.metrics.SessionStarted()

	s := srv.newSession(conn, r.RemoteAddr)
	s.logger.Debug().Msg("websocket connection established")

	srv.sessions.Add(1)
	go func() {
		defer srv.sessions.Done()
		s.run(srv.sessionsCtx)
	}()
}

func (srv *Server) newSession(conn *websocket.Conn, addr string) *session {
	m := room.Member{
		ID:     uuid.NewString(),
		Addr:   addr,
		Outbox: room.NewOutbox(),
	}
	return &session{
		conn:    conn,
		svc:     srv.svc,
		metrics: srv.metrics,
		member:  m,
		logger: srv.logger.With().
			Str("connID", m.ID).
			Str("addr", m.Addr).
			Logger(),
		maxMessageSize: srv.maxMessageSize,
		pingInterval:   srv.pingInterval,
		pongWait:       srv.pongWait,
	}
}
