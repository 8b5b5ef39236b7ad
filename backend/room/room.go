package room

import (
	"errors"
	"sync"

	"github.com/adwski/room-relay/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrMemberExists   = errors.New("connection is already a member of the room")
	ErrMemberNotFound = errors.New("connection is not a member of the room")
)

// Member is one connection's seat in a room.
type Member struct {
	ID     model.ConnectionID
	Addr   string // peer identity announced to the others
	Outbox *Outbox
}

// Room is the membership set of one room instance and its fan-out.
type Room struct {
	logger  zerolog.Logger
	mx      *sync.RWMutex
	members map[model.ConnectionID]Member
	id      model.RoomID
}

func New(id model.RoomID, logger *zerolog.Logger) *Room {
	return &Room{
		logger:  logger.With().Str("roomID", id).Logger(),
		mx:      &sync.RWMutex{},
		members: make(map[model.ConnectionID]Member),
		id:      id,
	}
}

func (r *Room) ID() model.RoomID {
	return r.id
}

// AddMember never replaces an existing seat: that would leave the seated
// connection's outbox without a reader.
func (r *Room) AddMember(m Member) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.members[m.ID]; ok {
		return ErrMemberExists
	}
	r.members[m.ID] = m
	return nil
}

func (r *Room) RemoveMember(id model.ConnectionID) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.members[id]; !ok {
		return ErrMemberNotFound
	}
	delete(r.members, id)
	return nil
}

// Broadcast queues f for every member except sender and returns how many
// outboxes accepted it. Closed outboxes are skipped.
func (r *Room) Broadcast(sender model.ConnectionID, f model.Frame) int {
	var sent int

	r.mx.RLock()
	defer r.mx.RUnlock()

	for id, m := range r.members {
		if id == sender {
			continue
		}
		if err := m.Outbox.Push(f); err != nil {
			r.logger.Debug().
				Str("dst", id).
				Err(err).
				Msg("frame dropped for dead member")
			continue
		}
		sent++
	}
	return sent
}

func (r *Room) Has(id model.ConnectionID) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *Room) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.members)
}

func (r *Room) IsEmpty() bool {
	return r.Len() == 0
}
