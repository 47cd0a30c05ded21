// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the game handlers. These give
// clients a more specific reason than the standard codes.
const (
	BadSubprotocolError   = 3000 // client connected with an unsupported subprotocol
	InvalidAuthTokenError = 3001 // presented session token was invalid or expired
	RegistrationRequired  = 3002 // client sent game messages before registering
)
