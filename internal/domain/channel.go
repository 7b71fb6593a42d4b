package domain

// Channel identifies the chat of one live broadcast.
type Channel struct {
	RoomID    string `mapstructure:"room_id" json:"room_id"`
	SessionID string `mapstructure:"session_id" json:"session_id"`
}

// String returns "room:session".
func (c Channel) String() string {
	return c.RoomID + ":" + c.SessionID
}

// Valid reports whether both ids are set.
func (c Channel) Valid() bool {
	return c.RoomID != "" && c.SessionID != ""
}
