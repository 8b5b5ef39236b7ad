package service

import (
	"errors"

	"github.com/adwski/room-relay/backend/model"
	"github.com/adwski/room-relay/backend/room"
	"github.com/adwski/room-relay/backend/storage/memory"
	"github.com/rs/zerolog"
)

var (
	ErrJoin       = errors.New("unable to join room")
	ErrNoSuchRoom = errors.New("room does not exist")
	ErrCreateRoom = errors.New("creating room failed")
)

type (
	Registry interface {
		Admit(m room.Member, rq model.RoomRequest) (*room.Room, error)
		Deregister(conn model.ConnectionID) (*room.Room, bool, error)
	}

	Service struct {
		registry Registry
		logger   zerolog.Logger
	}

	Config struct {
		Registry Registry
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
	}
}

// Join seats m in the room rq asks for and announces it to the other members.
// When Join returns, m is registered and will receive every later broadcast.
func (svc *Service) Join(m room.Member, rq model.RoomRequest) (*room.Room, error) {
	rm, err := svc.registry.Admit(m, rq)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrRoomNotFound):
			return nil, errors.Join(ErrNoSuchRoom, err)
		case errors.Is(err, memory.ErrRoomExists),
			errors.Is(err, memory.ErrNameExhausted):
			return nil, errors.Join(ErrCreateRoom, err)
		}
		return nil, errors.Join(ErrJoin, err)
	}
	svc.logger.Debug().
		Str("connID", m.ID).
		Str("addr", m.Addr).
		Str("roomID", rm.ID()).
		Str("request", rq.String()).
		Msg("peer joined room")

	rm.Broadcast(m.ID, model.JoinedFrame(m.Addr))
	return rm, nil
}

// Leave removes m from its room. Whoever is left is told; an emptied room is gone.
// Errors mean the registry and the caller disagree and are only logged.
func (svc *Service) Leave(m room.Member) {
	logger := svc.logger.With().
		Str("connID", m.ID).
		Str("addr", m.Addr).
		Logger()

	rm, erased, err := svc.registry.Deregister(m.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("inconsistent membership on leave")
	}
	if rm == nil {
		return
	}
	if erased {
		logger.Debug().Str("roomID", rm.ID()).Msg("last peer left, room removed")
		return
	}
	n := rm.Broadcast(m.ID, model.LeftFrame(m.Addr))
	logger.Debug().
		Str("roomID", rm.ID()).
		Int("notified", n).
		Msg("peer left room")
}
