package room

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adwski/room-relay/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(id string) *Room {
	logger := zerolog.Nop()
	return New(id, &logger)
}

func drain(t *testing.T, o *Outbox) []string {
	t.Helper()
	frames, _ := o.Drain()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f.Data))
	}
	return out
}

func TestOutboxFIFO(t *testing.T) {
	o := NewOutbox()
	for i := range 5 {
		require.NoError(t, o.Push(model.TextFrameOf([]byte(fmt.Sprint(i)))))
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, drain(t, o))
}

func TestOutboxReadyAfterPush(t *testing.T) {
	o := NewOutbox()
	got := make(chan model.Frame, 1)
	go func() {
		<-o.Ready()
		frames, _ := o.Drain()
		if len(frames) == 1 {
			got <- frames[0]
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, o.Push(model.Frame{Type: model.BinaryFrame, Data: []byte{1, 2}}))

	select {
	case f := <-got:
		assert.Equal(t, model.BinaryFrame, f.Type)
		assert.Equal(t, []byte{1, 2}, f.Data)
	case <-time.After(time.Second):
		t.Fatal("reader did not wake up")
	}
}

func TestOutboxCloseKeepsQueuedFrames(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Push(model.TextFrameOf([]byte("last"))))
	o.Close()
	o.Close()

	assert.ErrorIs(t, o.Push(model.TextFrameOf([]byte("late"))), ErrOutboxClosed)

	frames, closed := o.Drain()
	assert.True(t, closed)
	require.Len(t, frames, 1)
	assert.Equal(t, "last", string(frames[0].Data))

	frames, closed = o.Drain()
	assert.True(t, closed)
	assert.Empty(t, frames)
}

func TestOutboxCloseWakesReader(t *testing.T) {
	o := NewOutbox()
	done := make(chan bool, 1)
	go func() {
		<-o.Ready()
		_, closed := o.Drain()
		done <- closed
	}()
	time.Sleep(20 * time.Millisecond)
	o.Close()

	select {
	case closed := <-done:
		assert.True(t, closed)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe Close")
	}
}

func TestOutboxConcurrentWriters(t *testing.T) {
	const writers, each = 8, 200
	o := NewOutbox()

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range each {
				_ = o.Push(model.TextFrameOf([]byte(fmt.Sprintf("%d:%d", w, i))))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, writers*each, o.Len())
	assert.Len(t, drain(t, o), writers*each)
	assert.Zero(t, o.Len())
}

func TestAddMemberRejectsDuplicate(t *testing.T) {
	r := newTestRoom("Amber")
	first := Member{ID: "c1", Addr: "10.0.0.1:1000", Outbox: NewOutbox()}
	require.NoError(t, r.AddMember(first))

	err := r.AddMember(Member{ID: "c1", Addr: "10.0.0.9:9", Outbox: NewOutbox()})
	assert.ErrorIs(t, err, ErrMemberExists)

	// the first seat keeps its outbox
	r.Broadcast("other", model.TextFrameOf([]byte("x")))
	assert.Equal(t, 1, first.Outbox.Len())
}

func TestRemoveMember(t *testing.T) {
	r := newTestRoom("Amber")
	require.NoError(t, r.AddMember(Member{ID: "c1", Outbox: NewOutbox()}))
	assert.False(t, r.IsEmpty())
	assert.True(t, r.Has("c1"))

	require.NoError(t, r.RemoveMember("c1"))
	assert.True(t, r.IsEmpty())
	assert.False(t, r.Has("c1"))
	assert.ErrorIs(t, r.RemoveMember("c1"), ErrMemberNotFound)
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := newTestRoom("Amber")
	x, y, z := NewOutbox(), NewOutbox(), NewOutbox()
	require.NoError(t, r.AddMember(Member{ID: "x", Outbox: x}))
	require.NoError(t, r.AddMember(Member{ID: "y", Outbox: y}))
	require.NoError(t, r.AddMember(Member{ID: "z", Outbox: z}))

	n := r.Broadcast("x", model.TextFrameOf([]byte("hello")))
	assert.Equal(t, 2, n)
	assert.Empty(t, drain(t, x))
	assert.Equal(t, []string{"hello"}, drain(t, y))
	assert.Equal(t, []string{"hello"}, drain(t, z))
}

func TestBroadcastSkipsClosedOutbox(t *testing.T) {
	r := newTestRoom("Amber")
	dead, live := NewOutbox(), NewOutbox()
	dead.Close()
	require.NoError(t, r.AddMember(Member{ID: "dead", Outbox: dead}))
	require.NoError(t, r.AddMember(Member{ID: "live", Outbox: live}))

	n := r.Broadcast("sender", model.TextFrameOf([]byte("hi")))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"hi"}, drain(t, live))
}

func TestBroadcastPreservesOrderPerSender(t *testing.T) {
	const perSender = 500

	r := newTestRoom("Amber")
	rcv := NewOutbox()
	require.NoError(t, r.AddMember(Member{ID: "rcv", Outbox: rcv}))
	senders := []string{"a", "b", "c"}
	for _, s := range senders {
		require.NoError(t, r.AddMember(Member{ID: s, Outbox: NewOutbox()}))
	}

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			for i := range perSender {
				r.Broadcast(s, model.TextFrameOf([]byte(fmt.Sprintf("%s:%d", s, i))))
			}
		}(s)
	}
	wg.Wait()

	next := map[string]int{}
	for _, msg := range drain(t, rcv) {
		s, num, ok := strings.Cut(msg, ":")
		require.True(t, ok)
		i, err := strconv.Atoi(num)
		require.NoError(t, err)
		require.Equal(t, next[s], i, "out of order frame from %s", s)
		next[s]++
	}
	for _, s := range senders {
		assert.Equal(t, perSender, next[s])
	}
}
