package domain

// ConnState is the connection status surfaced to the UI.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateClosed       ConnState = "closed"
)
