package session

import (
	"encoding/json"
	"time"
)

// MaxUsers is the default membership capacity of a session.
const MaxUsers = 4

// DefaultDuration is the configured length of a new session.
const DefaultDuration = 25 * time.Minute

type Status int

const (
	Idle Status = iota
	Running
	Paused
	Completed
)

var statusNames = map[Status]string{
	Idle:      "idle",
	Running:   "running",
	Paused:    "paused",
	Completed: "completed",
}

var statusFromName = map[string]Status{
	"idle":      Idle,
	"running":   Running,
	"paused":    Paused,
	"completed": Completed,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := statusFromName[n]; ok {
		*s = v
	}
	return nil
}

// ParticipantStatus mirrors whether a participant's own timer is running.
type ParticipantStatus int

const (
	ParticipantActive ParticipantStatus = iota
	ParticipantPaused
)

var participantStatusNames = map[ParticipantStatus]string{
	ParticipantActive: "active",
	ParticipantPaused: "paused",
}

var participantStatusFromName = map[string]ParticipantStatus{
	"active": ParticipantActive,
	"paused": ParticipantPaused,
}

func (s ParticipantStatus) String() string {
	if n, ok := participantStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s ParticipantStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ParticipantStatus) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := participantStatusFromName[n]; ok {
		*s = v
	}
	return nil
}

// Avatar selects one of the fixed participant portraits.
type Avatar string

const (
	AvatarCyberPunk   Avatar = "cyber-punk"
	AvatarNeonCat     Avatar = "neon-cat"
	AvatarRoboFace    Avatar = "robo-face"
	AvatarHackerSkull Avatar = "hacker-skull"
	AvatarMatrixEye   Avatar = "matrix-eye"
)

// Avatars lists every selectable avatar in display order.
var Avatars = []Avatar{AvatarCyberPunk, AvatarNeonCat, AvatarRoboFace, AvatarHackerSkull, AvatarMatrixEye}

func (a Avatar) Valid() bool {
	for _, v := range Avatars {
		if v == a {
			return true
		}
	}
	return false
}

// Session is the canonical record of a shared focus session.
type Session struct {
	ID              string    `json:"id"`
	StartTime       time.Time `json:"startTime"`
	DurationMinutes int       `json:"durationMinutes"`
	Status          Status    `json:"status"`
	ParticipantIDs  []string  `json:"participantIds"`
}

// Clone returns a deep copy so membership can be mutated independently.
func (s *Session) Clone() *Session {
	c := *s
	c.ParticipantIDs = append([]string(nil), s.ParticipantIDs...)
	return &c
}

// Has reports whether id is a member.
func (s *Session) Has(id string) bool {
	for _, pid := range s.ParticipantIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// without returns the membership with id removed.
func (s *Session) without(id string) []string {
	out := make([]string, 0, len(s.ParticipantIDs))
	for _, pid := range s.ParticipantIDs {
		if pid != id {
			out = append(out, pid)
		}
	}
	return out
}

// Participant is one member's public state. The heartbeat timestamp lives
// only in the stored record and is never part of this struct.
type Participant struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Avatar           Avatar            `json:"avatar"`
	FocusScore       float64           `json:"focusScore"`
	IsSessionCreator bool              `json:"isSessionCreator"`
	Status           ParticipantStatus `json:"status"`
	ElapsedSeconds   int               `json:"elapsedSeconds"`
}
