package model

// WebSocket control frames
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong = "pong"
)

// WSMessage represents a client-to-server WebSocket frame
type WSMessage struct {
	Type string `json:"type"`
}

// WSErrorMessage is sent before the server closes a socket it cannot serve.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
