// internal/handlers/ws_test.go
package handlers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blattodea/roachpoker/internal/auth"
	"github.com/blattodea/roachpoker/internal/game"
	"github.com/blattodea/roachpoker/internal/room"
)

func TestFlatActionFrameRoutesToSession(t *testing.T) {
	auth.Init()
	srv := NewServer()
	rm := room.NewRoomWithDefaults(uuid.New(), "t", false, "")
	rm.Rules.TurnTimerSec = 0
	srv.WireRoom(rm)
	srv.RoomStore.AddRoom(rm)
	playerA, playerB := seatTwoPlayers(t, rm)

	sess := srv.StartSession(rm)
	require.NotNil(t, sess)

	sess.Mu.Lock()
	current := sess.Players[sess.CurrentPlayerIndex]
	card := current.Hand[0]
	sess.Mu.Unlock()
	require.Equal(t, playerA, current.ID)

	conn := &room.RoomConnection{
		ID:      uuid.New(),
		UserID:  playerA,
		OutChan: make(chan map[string]interface{}, 16),
	}

	// A flat frame carries the action's fields at the top level instead of
	// nesting them under a payload key.
	packet := map[string]interface{}{
		"type":             game.ActionClaimCard,
		"card_id":          card.ID.String(),
		"claimed_creature": string(card.Creature),
		"target_player_id": playerB.String(),
	}
	handleGameAction(game.ActionClaimCard, packet, packet, srv, rm, conn, logrus.New())

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	require.NotNil(t, sess.CurRound, "claim should now be in flight")
	assert.Equal(t, playerB, sess.CurRound.TargetID)
}

func TestHeartbeatAckEchoesClientTimestamp(t *testing.T) {
	ack := heartbeatAck(map[string]interface{}{"timestamp": float64(1000)}, 1500)
	assert.Equal(t, "heartbeat_ack", ack["type"])
	assert.Equal(t, int64(1500), ack["server_timestamp"])
	assert.Equal(t, int64(1000), ack["client_timestamp"])
	assert.Equal(t, int64(500), ack["latency_ms"])
}

func TestHeartbeatAckClampsLatencyAtZero(t *testing.T) {
	// A client clock running ahead of the server yields skew, not negative
	// latency.
	ack := heartbeatAck(map[string]interface{}{"timestamp": float64(2000)}, 1500)
	assert.Equal(t, int64(2000), ack["client_timestamp"])
	assert.Equal(t, int64(0), ack["latency_ms"])
}

func TestHeartbeatAckWithoutTimestamp(t *testing.T) {
	ack := heartbeatAck(map[string]interface{}{}, 1500)
	assert.Equal(t, int64(1500), ack["server_timestamp"])
	_, hasLatency := ack["latency_ms"]
	assert.False(t, hasLatency)
}
