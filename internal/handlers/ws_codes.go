// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby socket handler. These give
// clients a more specific reason for closure than the standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Auth token was invalid and guest fallback failed.
	InvalidLobbyCodeError = 3002 // Lobby code in the handshake does not exist.
)
