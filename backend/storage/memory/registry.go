package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/adwski/room-relay/backend/model"
	"github.com/adwski/room-relay/backend/room"
	"github.com/rs/zerolog"
)

const (
	defaultNameAttempts = 10
)

var (
	ErrRoomNotFound      = errors.New("room is not found")
	ErrRoomExists        = errors.New("room already exists")
	ErrNameExhausted     = errors.New("could not generate a free room name")
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrNotRegistered     = errors.New("connection is not registered")
	ErrInvalidRequest    = errors.New("invalid room request")
)

type (
	NameGenerator interface {
		Next() string
	}

	Config struct {
		Logger       *zerolog.Logger
		Names        NameGenerator
		NameAttempts int
	}

	Stats struct {
		Rooms       int `json:"rooms"`
		Connections int `json:"connections"`
	}

	// Registry is the process-wide table of live rooms and of the room each
	// connection belongs to. Every mutation runs under one mutex, so
	// check-then-insert and remove-then-erase are atomic.
	Registry struct {
		logger       zerolog.Logger
		names        NameGenerator
		mx           *sync.Mutex
		rooms        map[model.RoomID]*room.Room
		conns        map[model.ConnectionID]model.RoomID
		nameAttempts int
	}
)

func NewRegistry(cfg Config) *Registry {
	attempts := cfg.NameAttempts
	if attempts <= 0 {
		attempts = defaultNameAttempts
	}
	return &Registry{
		logger:       cfg.Logger.With().Str("component", "registry").Logger(),
		names:        cfg.Names,
		mx:           &sync.Mutex{},
		rooms:        make(map[model.RoomID]*room.Room),
		conns:        make(map[model.ConnectionID]model.RoomID),
		nameAttempts: attempts,
	}
}

// Resolve finds or creates the room rq refers to. A room created here stays
// empty until somebody registers in it; prefer Admit.
func (reg *Registry) Resolve(rq model.RoomRequest) (*room.Room, error) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, _, err := reg.resolve(rq)
	return rm, err
}

// Register seats m in rm. rm must still be the live room for its id.
func (reg *Registry) Register(m room.Member, rm *room.Room) error {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	return reg.register(m, rm)
}

// Admit resolves rq and registers m in the result in one critical section.
// A room created for m is dropped again if m cannot be seated.
func (reg *Registry) Admit(m room.Member, rq model.RoomRequest) (*room.Room, error) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, created, err := reg.resolve(rq)
	if err != nil {
		return nil, err
	}
	if err = reg.register(m, rm); err != nil {
		if created {
			delete(reg.rooms, rm.ID())
		}
		return nil, err
	}
	return rm, nil
}

func (reg *Registry) RoomByConnection(conn model.ConnectionID) (*room.Room, bool) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	id, ok := reg.conns[conn]
	if !ok {
		return nil, false
	}
	rm, ok := reg.rooms[id]
	return rm, ok
}

// Deregister removes conn from its room and from the connection table and
// erases the room if it became empty. The room is returned either way so the
// caller can notify whoever is left.
func (reg *Registry) Deregister(conn model.ConnectionID) (*room.Room, bool, error) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	id, ok := reg.conns[conn]
	if !ok {
		return nil, false, ErrNotRegistered
	}
	delete(reg.conns, conn)

	rm, ok := reg.rooms[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: connection points to erased room %q", ErrRoomNotFound, id)
	}

	err := rm.RemoveMember(conn)
	if rm.IsEmpty() {
		delete(reg.rooms, id)
		reg.logger.Debug().Str("roomID", id).Msg("room has no more peers, removed")
		return rm, true, err
	}
	return rm, false, err
}

func (reg *Registry) Stats() Stats {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	return Stats{
		Rooms:       len(reg.rooms),
		Connections: len(reg.conns),
	}
}

// Occupancy is Stats in the shape the metrics gauges read.
func (reg *Registry) Occupancy() (int, int) {
	s := reg.Stats()
	return s.Rooms, s.Connections
}

func (reg *Registry) resolve(rq model.RoomRequest) (*room.Room, bool, error) {
	if rq.Kind != model.KindNewRoom && rq.RoomID == "" {
		return nil, false, ErrInvalidRequest
	}
	switch rq.Kind {
	case model.KindNewRoom:
		for attempt := 1; attempt <= reg.nameAttempts; attempt++ {
			name := reg.names.Next()
			if _, taken := reg.rooms[name]; !taken && name != "" {
				return reg.create(name), true, nil
			}
			reg.logger.Debug().
				Str("candidate", name).
				Int("attempt", attempt).
				Msg("generated a room name that is already taken")
		}
		return nil, false, ErrNameExhausted

	case model.KindJoinRoom:
		rm, ok := reg.rooms[rq.RoomID]
		if !ok {
			return nil, false, ErrRoomNotFound
		}
		return rm, false, nil

	case model.KindJoinWithCode:
		if _, ok := reg.rooms[rq.RoomID]; ok {
			return nil, false, ErrRoomExists
		}
		return reg.create(rq.RoomID), true, nil
	}
	return nil, false, ErrInvalidRequest
}

func (reg *Registry) create(id model.RoomID) *room.Room {
	rm := room.New(id, &reg.logger)
	reg.rooms[id] = rm
	reg.logger.Debug().Str("roomID", id).Msg("room created")
	return rm
}

func (reg *Registry) register(m room.Member, rm *room.Room) error {
	if live, ok := reg.rooms[rm.ID()]; !ok || live != rm {
		return ErrRoomNotFound
	}
	if _, ok := reg.conns[m.ID]; ok {
		return ErrAlreadyRegistered
	}
	if err := rm.AddMember(m); err != nil {
		return err
	}
	reg.conns[m.ID] = rm.ID()
	return nil
}
