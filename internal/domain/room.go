package domain

import "time"

type RoomID string

// Room is the two-party scope of a call: one host and at most one guest.
type Room struct {
	ID                  RoomID           `json:"roomId"`
	Name                string           `json:"roomName"`
	CreatedAt           time.Time        `json:"createdAt"`
	ExpiresAt           time.Time        `json:"expiresAt"`
	HostUserName        string           `json:"hostUserName"`
	ParticipantUserName string           `json:"participantUserName,omitempty"`
	Ended               bool             `json:"ended"`
	Transcripts         []TranscriptLine `json:"-"`
}

// Expired reports whether the room TTL elapsed at now.
func (r *Room) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// RoleOf returns the role name holds in the room, RoleNone if it holds none.
func (r *Room) RoleOf(name string) Role {
	switch name {
	case "":
		return RoleNone
	case r.HostUserName:
		return RoleHost
	case r.ParticipantUserName:
		return RoleParticipant
	}
	return RoleNone
}

// Snapshot returns a copy safe to hand out of the registry lock.
func (r *Room) Snapshot() Room {
	out := *r
	out.Transcripts = append([]TranscriptLine(nil), r.Transcripts...)
	return out
}
