package domain

// Status is the lifecycle status of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Delivery is the lifecycle state of a message. It is one of Pending, Sent or
// Failed. Only Pending has transitions, so Sent and Failed are terminal.
type Delivery interface {
	Status() Status
	delivery()
}

// Pending is a locally authored message awaiting acknowledgement.
type Pending struct {
	TempID string
}

func (Pending) Status() Status { return StatusPending }
func (Pending) delivery()      {}

// Confirm transitions to Sent with the server-assigned id.
func (p Pending) Confirm(serverID string) Sent {
	return Sent{ServerID: serverID}
}

// Fail transitions to Failed.
func (p Pending) Fail(reason string) Failed {
	return Failed{TempID: p.TempID, Reason: reason}
}

// Sent is a message acknowledged by the transport or received from it.
type Sent struct {
	ServerID string
}

func (Sent) Status() Status { return StatusSent }
func (Sent) delivery()      {}

// Failed is a message the transport rejected. It is never retried.
type Failed struct {
	TempID string
	Reason string
}

func (Failed) Status() Status { return StatusFailed }
func (Failed) delivery()      {}
