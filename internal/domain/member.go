package domain

// Role is what a connection is inside a room.
type Role string

const (
	RoleNone        Role = ""
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

func (r Role) IsHost() bool { return r == RoleHost }
