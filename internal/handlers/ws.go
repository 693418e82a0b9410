// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blattodea/roachpoker/internal/game"
	"github.com/blattodea/roachpoker/internal/middleware"
	"github.com/blattodea/roachpoker/internal/models"
	"github.com/blattodea/roachpoker/internal/room"
)

// RoomWSHandler is the single realtime gateway: one socket per participant,
// carrying room traffic (ready, chat, rules) and game actions alike. The URL
// shape is /ws/{room_id}.
func RoomWSHandler(logger *logrus.Logger, srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
		if len(pathParts) < 1 || pathParts[0] == "" {
			http.Error(w, "missing room_id", http.StatusBadRequest)
			return
		}
		roomUUID, err := uuid.Parse(pathParts[0])
		if err != nil {
			http.Error(w, "invalid room_id", http.StatusBadRequest)
			return
		}

		// Identity is resolved before the upgrade so a guest cookie can still
		// be set on the handshake response.
		userUUID, displayName, err := EnsureEphemeralUser(w, r)
		if err != nil {
			logger.Warnf("User authentication failed for room %s: %v", roomUUID, err)
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		inviteCode := r.URL.Query().Get("invite_code")
		asSpectator := r.URL.Query().Get("spectate") == "true"

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"roachpoker"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		middleware.LogWebSocketConnect(logger, remoteAddr, r.URL.Path)

		if c.Subprotocol() != "roachpoker" {
			c.Close(BadSubprotocolError, "client must speak the roachpoker subprotocol")
			return
		}

		rm, err := srv.RoomStore.GetRoom(roomUUID)
		if err != nil {
			c.Close(InvalidRoomIDError, "room does not exist")
			return
		}

		rm.Mu.Lock()
		participant, joinErr := rm.JoinUnsafe(userUUID, displayName, inviteCode, asSpectator)
		rm.Mu.Unlock()
		if joinErr != nil {
			logger.Warnf("Room %s: join refused for user %s: %v", roomUUID, userUUID, joinErr)
			c.Close(RoomJoinRefusedError, joinErr.Error())
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &room.RoomConnection{
			ID:          uuid.New(),
			UserID:      userUUID,
			DisplayName: displayName,
			Cancel:      cancel,
			OutChan:     make(chan map[string]interface{}, 16),
		}

		// The identity ack goes out first so the client learns its connection
		// id before any room traffic arrives.
		conn.Write(map[string]interface{}{
			"type":          "authenticated",
			"user_id":       userUUID.String(),
			"display_name":  displayName,
			"connection_id": conn.ID.String(),
			"server_time":   time.Now().UnixMilli(),
		})

		// AddConnection supersedes any previous socket for this user.
		rm.AddConnection(userUUID, conn)
		logger.Infof("User %v (%s) connected to room %v as %s", userUUID, remoteAddr, roomUUID, participant.Role)

		// A reconnecting player also needs the game snapshot.
		if sess, ok := srv.SessionStore.GetSessionByRoomID(roomUUID); ok {
			sess.HandleReconnect(userUUID)
		}

		go writePump(ctx, c, conn, logger)
		readPump(ctx, c, srv, rm, conn, logger)

		middleware.LogWebSocketDisconnect(logger, remoteAddr, r.URL.Path, nil)

		// The socket is gone; the participant keeps their seat through the
		// grace period, and the session learns about the absence.
		rm.Mu.Lock()
		if current, ok := rm.Connections[userUUID]; ok && current == conn {
			rm.HandleDisconnectUnsafe(userUUID)
		}
		rm.Mu.Unlock()
		if sess, ok := srv.SessionStore.GetSessionByRoomID(roomUUID); ok {
			sess.HandleDisconnect(userUUID)
		}
	}
}

// readPump handles incoming messages until the socket closes. Room messages
// run under the room lock; game actions run under the session lock. The two
// locks are never held together here.
func readPump(ctx context.Context, c *websocket.Conn, srv *Server, rm *room.Room, conn *room.RoomConnection, logger *logrus.Logger) {
	logger.Infof("Room %s: starting read pump for user %v", rm.ID, conn.UserID)
	defer logger.Infof("Room %s: exiting read pump for user %v", rm.ID, conn.UserID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Room %s: WebSocket closed normally for user %v.", rm.ID, conn.UserID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("Room %s: read error for user %v: %v (CloseStatus: %d)", rm.ID, conn.UserID, err, closeStatus)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("Room %s: non-text message type %d from user %v. Ignoring.", rm.ID, typ, conn.UserID)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("Room %s: invalid json from user %v: %v", rm.ID, conn.UserID, err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		msgType, _ := packet["type"].(string)
		switch msgType {
		case "heartbeat":
			conn.Write(heartbeatAck(packet, time.Now().UnixMilli()))
		case "action":
			actionType, _ := packet["action_type"].(string)
			payload, _ := packet["payload"].(map[string]interface{})
			handleGameAction(actionType, packet, payload, srv, rm, conn, logger)
		case game.ActionClaimCard, game.ActionRespond, game.ActionPassCard, game.ActionForfeit:
			// Flat frames carry the action's fields at the top level.
			handleGameAction(msgType, packet, packet, srv, rm, conn, logger)
		default:
			handleRoomMessage(msgType, packet, srv, rm, conn, logger)
		}
	}
}

// heartbeatAck builds the reply to a liveness probe. The client timestamp is
// echoed back so the client can measure its own round trip; latency_ms is a
// one-way estimate clamped at zero, since a client clock running ahead yields
// skew, not negative latency. Diagnostics only, never game timing.
func heartbeatAck(packet map[string]interface{}, now int64) map[string]interface{} {
	ack := map[string]interface{}{
		"type":             "heartbeat_ack",
		"server_timestamp": now,
	}
	if ts, ok := packet["timestamp"].(float64); ok {
		ack["client_timestamp"] = int64(ts)
		latency := now - int64(ts)
		if latency < 0 {
			latency = 0
		}
		ack["latency_ms"] = latency
	}
	return ack
}

// handleGameAction routes a game action to the room's session under the
// session lock. The envelope carries the version fence; payload carries the
// action's fields (for flat frames, the whole packet).
func handleGameAction(actionType string, envelope, payload map[string]interface{}, srv *Server, rm *room.Room, conn *room.RoomConnection, logger *logrus.Logger) {
	sess, ok := srv.SessionStore.GetSessionByRoomID(rm.ID)
	if !ok {
		conn.Write(map[string]interface{}{
			"type": string(game.EventActionError),
			"payload": map[string]interface{}{
				"error_code": game.ErrCodeGameNotActive,
				"message":    "No game is running in this room.",
			},
		})
		return
	}

	action := models.GameAction{ActionType: actionType}
	if v, ok := envelope["session_version"].(float64); ok {
		action.Version = int64(v)
	}
	if payload != nil {
		action.Payload = payload
	} else {
		action.Payload = map[string]interface{}{}
	}

	sess.Mu.Lock()
	sess.HandlePlayerAction(conn.UserID, action)
	sess.Mu.Unlock()
}

// handleRoomMessage interprets room-level message types. Acquires the room
// lock for the duration of the mutation; callbacks that take other locks run
// after release.
func handleRoomMessage(msgType string, packet map[string]interface{}, srv *Server, rm *room.Room, conn *room.RoomConnection, logger *logrus.Logger) {
	var allReady bool
	var leaveAfter func()

	rm.Mu.Lock()
	switch msgType {
	case "ready":
		allReady = rm.MarkReadyUnsafe(conn.UserID, true)
	case "unready":
		rm.MarkReadyUnsafe(conn.UserID, false)
	case "chat":
		if msg, _ := packet["msg"].(string); msg != "" {
			rm.BroadcastChatUnsafe(conn.UserID, msg)
		}
	case "update_rules":
		if rulesData, ok := packet["rules"].(map[string]interface{}); ok {
			if err := rm.UpdateRulesUnsafe(conn.UserID, rulesData); err != nil {
				conn.WriteError(err.Error())
			}
		} else {
			conn.WriteError("Invalid payload for update_rules")
		}
	case "leave_room":
		leaveAfter = rm.LeaveUnsafe(conn.UserID)
	case "request_room_state":
		rm.SendRoomState(conn.UserID)
	case "request_sync":
		// Snapshot request runs under the session lock after room release.
	default:
		logger.Warnf("Room %s: unknown message type '%s' from user %v", rm.ID, msgType, conn.UserID)
		conn.WriteError(fmt.Sprintf("Unknown message type: %s", msgType))
	}
	onAllReady := rm.OnAllReady
	rm.Mu.Unlock()

	if leaveAfter != nil {
		leaveAfter()
		return
	}
	if msgType == "request_sync" {
		if sess, ok := srv.SessionStore.GetSessionByRoomID(rm.ID); ok {
			sess.SendSyncState(conn.UserID)
		} else {
			conn.WriteError("No game is running in this room.")
		}
		return
	}
	if allReady && onAllReady != nil {
		logger.Infof("Room %s: all players ready, starting game.", rm.ID)
		onAllReady(rm)
	}
}

// writePump drains the connection's OutChan onto the socket and keeps the
// link alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *room.RoomConnection, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Room: failed to marshal outgoing msg for user %v: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Room: failed to write to websocket for user %v: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Room: ping failed for user %v: %v. Assuming disconnect.", conn.UserID, err)
				return
			}
		}
	}
}
