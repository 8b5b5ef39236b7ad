package websocket

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/adwski/room-relay/backend/metrics"
	"github.com/adwski/room-relay/backend/model"
	"github.com/adwski/room-relay/backend/room"
	"github.com/adwski/room-relay/backend/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	closeReasonShutdown = "server shutting down"
)

// session drives one connection through
// handshaking -> active -> closed. There is no way back.
type session struct {
	conn    *websocket.Conn
	svc     RoomService
	metrics *metrics.Metrics
	member  room.Member
	logger  zerolog.Logger

	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
}

func (s *session) run(ctx context.Context) {
	s.conn.SetReadLimit(s.maxMessageSize)

	rq, ok := s.handshake(ctx)
	if !ok {
		return
	}

	rm, err := s.svc.Join(s.member, rq)
	if err != nil {
		reason := model.ReasonCreateFailed
		if errors.Is(err, service.ErrNoSuchRoom) {
			reason = model.ReasonNoSuchRoom
		}
		s.logger.Info().Err(err).Str("request", rq.String()).Msg("room request rejected")
		s.metrics.HandshakeFailed(reason)
		s.close(websocket.ClosePolicyViolation, reason)
		return
	}
	s.logger = s.logger.With().Str("roomID", rm.ID()).Logger()

	defer func() {
		s.svc.Leave(s.member)
		s.member.Outbox.Close()
		s.logger.Info().Msg("disconnected")
	}()

	// Written before the sender starts so it is always the first frame the
	// client sees. Broadcasts that race with it wait in the outbox.
	if err = s.write(model.Confirmation(rm.ID())); err != nil {
		s.logger.Error().Err(err).Msg("failed to send room confirmation")
		s.close(websocket.CloseInternalServerErr, "")
		return
	}
	s.logger.Info().Msg("joined room")

	s.active(ctx, rm)
}

// handshake reads the first frame. On failure the connection is already
// closed with a reason.
func (s *session) handshake(ctx context.Context) (model.RoomRequest, bool) {
	// the first read has no deadline, shutdown has to interrupt it
	stop := context.AfterFunc(ctx, func() {
		s.close(websocket.CloseGoingAway, closeReasonShutdown)
	})
	defer stop()

	mt, msg, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return model.RoomRequest{}, false
		}
		s.logger.Warn().Err(err).Msg("failed to receive room request")
		s.reject(websocket.CloseProtocolError)
		return model.RoomRequest{}, false
	}
	if mt != websocket.TextMessage {
		s.logger.Warn().Int("type", mt).Msg("unexpected first message type")
		s.reject(websocket.CloseUnsupportedData)
		return model.RoomRequest{}, false
	}

	rq, err := model.ParseRoomRequest(msg)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse room request")
		s.reject(websocket.CloseProtocolError)
		return model.RoomRequest{}, false
	}
	if !stop() {
		// shutdown won the race and closed the connection
		return model.RoomRequest{}, false
	}
	s.logger.Debug().Str("request", rq.String()).Msg("got room request")
	return rq, true
}

func (s *session) reject(code int) {
	s.metrics.HandshakeFailed(model.ReasonInvalidRequest)
	s.close(code, model.ReasonInvalidRequest)
}

// active runs the receiver and the sender until either of them stops.
func (s *session) active(parent context.Context, rm *room.Room) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		recvDone = make(chan struct{})
		sendDone = make(chan struct{})
	)
	go func() {
		defer close(recvDone)
		s.receive(ctx, rm)
		cancel()
	}()
	go func() {
		defer close(sendDone)
		s.send(ctx)
		cancel()
	}()

	// only the sender writes data frames, so the close frame goes out after it
	<-sendDone
	if parent.Err() != nil {
		s.close(websocket.CloseGoingAway, closeReasonShutdown)
	} else {
		s.close(websocket.CloseNormalClosure, "")
	}
	<-recvDone
}

func (s *session) receive(ctx context.Context, rm *room.Room) {
	if s.pingInterval > 0 {
		readDeadLineFunc := func() error {
			return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		}
		s.conn.SetPongHandler(func(string) error {
			s.logger.Trace().Msg("got pong")
			return readDeadLineFunc()
		})
		if err := readDeadLineFunc(); err != nil {
			s.logger.Error().Err(err).Msg("failed to set websocket read deadline")
			return
		}
	}

	for {
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.logger.Trace().Msg("receiver stopped")
			case websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				s.logger.Debug().Err(err).Msg("connection closed")
			case errors.Is(err, websocket.ErrReadLimit):
				s.logger.Warn().Int64("limit", s.maxMessageSize).Msg("message too big")
			default:
				s.logger.Warn().Err(err).Msg("unexpected error during receive")
			}
			return
		}

		s.metrics.FrameRelayed()
		n := rm.Broadcast(s.member.ID, model.Frame{Type: mt, Data: msg})
		s.logger.Trace().
			Int("bytes", len(msg)).
			Int("recipients", n).
			Msg("frame relayed")
	}
}

func (s *session) send(ctx context.Context) {
	var pings <-chan time.Time
	if s.pingInterval > 0 {
		pingTicker := time.NewTicker(s.pingInterval)
		defer pingTicker.Stop()
		pings = pingTicker.C
	}

	for {
		frames, closed := s.member.Outbox.Drain()
		for _, f := range frames {
			if err := s.write(f); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write outgoing frame")
				return
			}
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.member.Outbox.Ready():
		case <-pings:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWebSocketWriteDeadline))
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to send ping")
				return
			}
			s.logger.Trace().Msg("ping sent")
		}
	}
}

func (s *session) write(f model.Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	return s.conn.WriteMessage(f.Type, f.Data)
}

// close sends a close frame if the transport is still writable, then closes it.
func (s *session) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if err != nil && !isClosedErr(err) {
		s.logger.Debug().Err(err).Msg("failed to write close frame")
	}
	if err = s.conn.Close(); err != nil && !isClosedErr(err) {
		s.logger.Error().Err(err).Msg("failed to close websocket connection")
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed)
}
