// internal/room/room_test.go
package room

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blattodea/roachpoker/internal/game"
	"github.com/blattodea/roachpoker/internal/models"
)

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	r := NewRoomWithDefaults(uuid.New(), "Test Table", false, "")
	r.Rules.GracePeriodSec = 0
	return r
}

func join(t *testing.T, r *Room, name string) *models.Participant {
	t.Helper()
	r.Mu.Lock()
	defer r.Mu.Unlock()
	p, err := r.JoinUnsafe(uuid.New(), name, "", false)
	require.NoError(t, err)
	return p
}

func TestJoinAssignsLowestFreeSeat(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	b := join(t, r, "b")
	c := join(t, r, "c")

	assert.Equal(t, 0, *a.Seat)
	assert.Equal(t, 1, *b.Seat)
	assert.Equal(t, 2, *c.Seat)

	// Freeing a middle seat reuses it for the next joiner.
	r.Leave(b.UserID)
	d := join(t, r, "d")
	assert.Equal(t, 1, *d.Seat)
}

func TestJoinOverflowBecomesSpectator(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.MaxPlayers = 2
	join(t, r, "a")
	join(t, r, "b")

	c := join(t, r, "c")
	assert.Equal(t, models.RoleSpectator, c.Role)
	assert.Nil(t, c.Seat)
}

func TestJoinFullRoomWithoutSpectatorsRefused(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.MaxPlayers = 2
	r.Rules.AllowSpectators = false
	join(t, r, "a")
	join(t, r, "b")

	r.Mu.Lock()
	_, err := r.JoinUnsafe(uuid.New(), "c", "", false)
	r.Mu.Unlock()
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestPrivateRoomRequiresInviteCode(t *testing.T) {
	r := NewRoomWithDefaults(uuid.New(), "Secret", true, "swordfish")

	r.Mu.Lock()
	_, err := r.JoinUnsafe(uuid.New(), "a", "wrong", false)
	r.Mu.Unlock()
	assert.ErrorIs(t, err, ErrAccessDenied)

	r.Mu.Lock()
	_, err = r.JoinUnsafe(uuid.New(), "a", "swordfish", false)
	r.Mu.Unlock()
	assert.NoError(t, err)
}

func TestReadyGateRequiresAllSeatedPlayers(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	b := join(t, r, "b")

	// Spectators never count toward the gate.
	r.Mu.Lock()
	_, err := r.JoinUnsafe(uuid.New(), "watcher", "", true)
	require.NoError(t, err)

	assert.False(t, r.MarkReadyUnsafe(a.UserID, true), "one of two ready is not all ready")
	assert.True(t, r.MarkReadyUnsafe(b.UserID, true), "second ready completes the gate")
	r.Mu.Unlock()
}

func TestReadyWithSinglePlayerNeverStarts(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")

	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.False(t, r.MarkReadyUnsafe(a.UserID, true))
}

func TestCreatorTransferOnLeave(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	time.Sleep(2 * time.Millisecond)
	b := join(t, r, "b")
	time.Sleep(2 * time.Millisecond)
	c := join(t, r, "c")

	r.Mu.Lock()
	r.CreatorID = a.UserID
	r.Mu.Unlock()

	r.Leave(a.UserID)
	assert.Equal(t, b.UserID, r.CreatorID, "longest-tenured player inherits the room")

	r.Leave(b.UserID)
	assert.Equal(t, c.UserID, r.CreatorID)
}

func TestEmptyRoomIsAbandonedAndOnEmptyFires(t *testing.T) {
	r := newTestRoom(t)
	emptied := make(chan uuid.UUID, 1)
	r.OnEmpty = func(roomID uuid.UUID) { emptied <- roomID }

	a := join(t, r, "a")
	r.Leave(a.UserID)

	select {
	case id := <-emptied:
		assert.Equal(t, r.ID, id)
	case <-time.After(time.Second):
		t.Fatal("OnEmpty was not called")
	}
	assert.Equal(t, StatusAbandoned, r.Status)
}

func TestMidGameLeaveTriggersForfeitCallback(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	join(t, r, "b")

	gone := make(chan uuid.UUID, 1)
	r.OnPlayerGone = func(roomID, userID uuid.UUID) { gone <- userID }

	r.Mu.Lock()
	r.Status = StatusInGame
	r.Mu.Unlock()

	r.Leave(a.UserID)
	select {
	case id := <-gone:
		assert.Equal(t, a.UserID, id)
	case <-time.After(time.Second):
		t.Fatal("OnPlayerGone was not called")
	}
}

func TestGracePeriodEvictsAfterExpiry(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.GracePeriodSec = 1
	a := join(t, r, "a")
	join(t, r, "b")

	r.Mu.Lock()
	r.HandleDisconnectUnsafe(a.UserID)
	p := r.Participants[a.UserID]
	r.Mu.Unlock()
	require.NotNil(t, p, "seat survives the disconnect")
	assert.Equal(t, models.ConnDisconnected, p.Status)

	assert.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		_, still := r.Participants[a.UserID]
		return !still
	}, 3*time.Second, 50*time.Millisecond, "grace expiry should free the seat")
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.GracePeriodSec = 1
	a := join(t, r, "a")
	join(t, r, "b")
	seat := *a.Seat

	r.Mu.Lock()
	r.HandleDisconnectUnsafe(a.UserID)
	back, err := r.JoinUnsafe(a.UserID, "a", "", false)
	r.Mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, seat, *back.Seat, "rejoin keeps the original seat")
	assert.Equal(t, models.ConnConnected, back.Status)

	// The cancelled timer must not evict later.
	time.Sleep(1500 * time.Millisecond)
	r.Mu.Lock()
	_, still := r.Participants[a.UserID]
	r.Mu.Unlock()
	assert.True(t, still)
}

func newTestConn(userID uuid.UUID, cancel func()) *RoomConnection {
	return &RoomConnection{
		ID:      uuid.New(),
		UserID:  userID,
		Cancel:  cancel,
		OutChan: make(chan map[string]interface{}, 16),
	}
}

// nextMessage pops one queued outbound message, failing if none is waiting.
func nextMessage(t *testing.T, conn *RoomConnection) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-conn.OutChan:
		return msg
	default:
		t.Fatal("expected a queued message")
		return nil
	}
}

func TestSupersededConnectionWriteIsSafe(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")

	cancelled := make(chan struct{})
	old := newTestConn(a.UserID, func() { close(cancelled) })
	r.AddConnection(a.UserID, old)

	fresh := newTestConn(a.UserID, func() {})
	r.AddConnection(a.UserID, fresh)

	select {
	case <-cancelled:
	default:
		t.Fatal("superseded connection was not cancelled")
	}

	// A broadcast raced against the supersede must land on an open channel.
	assert.NotPanics(t, func() {
		old.Write(map[string]interface{}{"type": "chat"})
	})
}

func TestWriteAfterLeaveDoesNotPanic(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	join(t, r, "b")

	cancelled := make(chan struct{})
	conn := newTestConn(a.UserID, func() { close(cancelled) })
	r.AddConnection(a.UserID, conn)

	r.Leave(a.UserID)

	select {
	case <-cancelled:
	default:
		t.Fatal("leaving did not cancel the pump")
	}
	r.Mu.Lock()
	_, still := r.Connections[a.UserID]
	r.Mu.Unlock()
	assert.False(t, still)

	assert.NotPanics(t, func() {
		conn.Write(map[string]interface{}{"type": "chat"})
	})
}

func TestLoneSeatedPlayerAbandonedAfterGrace(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.GracePeriodSec = 1
	emptied := make(chan uuid.UUID, 1)
	r.OnEmpty = func(roomID uuid.UUID) { emptied <- roomID }

	join(t, r, "a")

	select {
	case id := <-emptied:
		assert.Equal(t, r.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("lone player was not abandoned after the grace period")
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, StatusAbandoned, r.Status)
	assert.Empty(t, r.Participants)
}

func TestSecondJoinCancelsLoneTimer(t *testing.T) {
	r := newTestRoom(t)
	r.Rules.GracePeriodSec = 1
	join(t, r, "a")
	join(t, r, "b")

	time.Sleep(1500 * time.Millisecond)
	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, StatusLobby, r.Status)
	assert.Len(t, r.Participants, 2)
}

func TestRoomEventNames(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a")
	conn := newTestConn(a.UserID, func() {})
	r.AddConnection(a.UserID, conn)

	assert.Equal(t, "room_joined", nextMessage(t, conn)["type"])

	b := join(t, r, "b")
	assert.Equal(t, "participant_joined", nextMessage(t, conn)["type"])

	r.Mu.Lock()
	r.MarkReadyUnsafe(b.UserID, true)
	r.Mu.Unlock()
	assert.Equal(t, "ready_status_changed", nextMessage(t, conn)["type"])

	r.Leave(b.UserID)
	assert.Equal(t, "participant_left", nextMessage(t, conn)["type"])
}

func TestRulesFrozenOnceInGame(t *testing.T) {
	r := newTestRoom(t)
	creator := join(t, r, "a")
	r.Mu.Lock()
	r.CreatorID = creator.UserID
	require.NoError(t, r.UpdateRulesUnsafe(creator.UserID, map[string]interface{}{"penaltyThreshold": 3}))
	assert.Equal(t, 3, r.Rules.PenaltyThreshold)

	r.Status = StatusInGame
	err := r.UpdateRulesUnsafe(creator.UserID, map[string]interface{}{"penaltyThreshold": 5})
	r.Mu.Unlock()
	assert.Error(t, err)
	assert.Equal(t, 3, r.Rules.PenaltyThreshold)
}

func TestOnlyCreatorMayUpdateRules(t *testing.T) {
	r := newTestRoom(t)
	join(t, r, "a")
	b := join(t, r, "b")

	r.Mu.Lock()
	err := r.UpdateRulesUnsafe(b.UserID, map[string]interface{}{"turnTimerSec": 10})
	r.Mu.Unlock()
	assert.Error(t, err)
}

func TestSeatedPlayersOrderedBySeat(t *testing.T) {
	r := newTestRoom(t)
	join(t, r, "a")
	join(t, r, "b")
	join(t, r, "c")

	r.Mu.Lock()
	seated := r.SeatedPlayersUnsafe()
	r.Mu.Unlock()
	require.Len(t, seated, 3)
	for i, p := range seated {
		assert.Equal(t, i, *p.Seat)
	}
}

func TestStoreDeletesRoomOnEmpty(t *testing.T) {
	store := NewRoomStore()
	r := NewRoomWithDefaults(uuid.New(), "t", false, "")
	r.Rules.GracePeriodSec = 0
	store.AddRoom(r)

	a := join(t, r, "a")
	r.Leave(a.UserID)

	_, err := store.GetRoom(r.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDefaultRulesAreSane(t *testing.T) {
	rules := game.DefaultRules()
	assert.GreaterOrEqual(t, rules.MaxPlayers, 2)
	assert.Greater(t, rules.PenaltyThreshold, 1)
}
