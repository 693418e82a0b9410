// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room gateway. These provide more
// specific reasons for closure than the standard codes.
const (
	BadSubprotocolError   = 3000 // client connected with an unsupported subprotocol
	InvalidAuthTokenError = 3001 // auth token was missing, invalid, or expired
	InvalidUserIDError    = 3002 // user ID derived from token was malformed
	InvalidRoomIDError    = 3003 // target room ID in the WS URL does not exist or is invalid
	RoomJoinRefusedError  = 3004 // room refused the join (full, private, not joinable)
	ConnectionSuperseded  = 3005 // a newer connection for the same user replaced this one
)
