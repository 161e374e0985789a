package port

// Status is the connection status surfaced to the rendering collaborator.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusActive
	StatusConnectionFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusConnectionFailed:
		return "connection failed"
	default:
		return "unknown"
	}
}
