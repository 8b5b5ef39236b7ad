package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// RoomID names a live room. Case-sensitive.
	RoomID = string

	// ConnectionID uniquely identifies one live connection.
	ConnectionID = string
)

// Request kinds a client can send as its first frame.
const (
	KindNewRoom      = "NewRoom"
	KindJoinRoom     = "JoinRoom"
	KindJoinWithCode = "JoinWithCode"
)

// Close reasons sent to a client whose handshake failed.
const (
	ReasonInvalidRequest = "Invalid Room Request"
	ReasonNoSuchRoom     = "Room does not exist"
	ReasonCreateFailed   = "Creating Room Failed"
)

var (
	ErrInvalidRequest = errors.New("invalid room request")
)

// RoomRequest is the handshake frame. On the wire it is a single-key object
// keyed by Kind, e.g. {"JoinRoom": "Amazing"} or {"NewRoom": null}.
type RoomRequest struct {
	Kind   string
	RoomID RoomID
}

func NewRoom() RoomRequest {
	return RoomRequest{Kind: KindNewRoom}
}

func JoinRoom(id RoomID) RoomRequest {
	return RoomRequest{Kind: KindJoinRoom, RoomID: id}
}

func JoinWithCode(id RoomID) RoomRequest {
	return RoomRequest{Kind: KindJoinWithCode, RoomID: id}
}

func (rq RoomRequest) String() string {
	if rq.Kind == KindNewRoom {
		return rq.Kind
	}
	return rq.Kind + "(" + rq.RoomID + ")"
}

// CreatesRoom reports whether resolving rq inserts a new room.
func (rq RoomRequest) CreatesRoom() bool {
	return rq.Kind == KindNewRoom || rq.Kind == KindJoinWithCode
}

func (rq RoomRequest) MarshalJSON() ([]byte, error) {
	switch rq.Kind {
	case KindNewRoom:
		return []byte(`{"NewRoom":null}`), nil
	case KindJoinRoom, KindJoinWithCode:
		return json.Marshal(map[string]string{rq.Kind: rq.RoomID})
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, rq.Kind)
}

func (rq *RoomRequest) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	// unit variant may arrive as a bare string
	var unit string
	if err := json.Unmarshal(b, &unit); err == nil {
		if unit != KindNewRoom {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, unit)
		}
		*rq = NewRoom()
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("%w: expected exactly one key, got %d", ErrInvalidRequest, len(obj))
	}
	for kind, raw := range obj {
		switch kind {
		case KindNewRoom:
			raw = bytes.TrimSpace(raw)
			if !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("{}")) {
				return fmt.Errorf("%w: NewRoom takes no argument", ErrInvalidRequest)
			}
			*rq = NewRoom()
		case KindJoinRoom, KindJoinWithCode:
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				return fmt.Errorf("%w: %s needs a string room id", ErrInvalidRequest, kind)
			}
			if id == "" {
				return fmt.Errorf("%w: empty room id", ErrInvalidRequest)
			}
			*rq = RoomRequest{Kind: kind, RoomID: id}
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
		}
	}
	return nil
}

// ParseRoomRequest decodes a handshake frame payload.
func ParseRoomRequest(b []byte) (RoomRequest, error) {
	var rq RoomRequest
	if err := json.Unmarshal(b, &rq); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return RoomRequest{}, err
		}
		return RoomRequest{}, errors.Join(ErrInvalidRequest, err)
	}
	return rq, nil
}

// Frame types match the websocket message opcodes.
const (
	TextFrame   = 1
	BinaryFrame = 2
)

// Frame is one relayed message. Data is never interpreted.
type Frame struct {
	Type int
	Data []byte
}

func TextFrameOf(b []byte) Frame { return Frame{Type: TextFrame, Data: b} }

// Membership announcements fanned out to the rest of a room.
type (
	PeerJoined struct {
		IPJoined string `json:"ip_joined"`
	}
	PeerLeft struct {
		IPLeft string `json:"ip_left"`
	}
)

// Confirmation is the acknowledgement sent to a client once it is a member of id.
func Confirmation(id RoomID) Frame {
	b, _ := json.Marshal(JoinRoom(id))
	return TextFrameOf(b)
}

func JoinedFrame(addr string) Frame {
	b, _ := json.Marshal(PeerJoined{IPJoined: addr})
	return TextFrameOf(b)
}

func LeftFrame(addr string) Frame {
	b, _ := json.Marshal(PeerLeft{IPLeft: addr})
	return TextFrameOf(b)
}
