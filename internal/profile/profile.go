// Package profile holds the local user's identity and monitoring choices.
package profile

import (
	"errors"
	"strings"

	"github.com/workaholi/focusroom/internal/session"
)

var (
	ErrNameRequired  = errors.New("identify yourself: name is required")
	ErrNoMonitoring  = errors.New("enable at least one monitoring module")
	ErrInvalidAvatar = errors.New("unknown avatar")
	ErrNotFound      = errors.New("profile not found")
)

// Monitoring selects which activity signals feed the focus score.
type Monitoring struct {
	Keyboard bool
	Mouse    bool
	// Presence samples running processes for a watched program.
	Presence bool
	Programs []string
}

// Enabled returns how many monitoring modules are on.
func (m Monitoring) Enabled() int {
	n := 0
	for _, on := range []bool{m.Keyboard, m.Mouse, m.Presence} {
		if on {
			n++
		}
	}
	return n
}

type Profile struct {
	Name       string
	Avatar     session.Avatar
	Monitoring Monitoring
}

// Default is the onboarding starting point: no name yet, keyboard and mouse on.
func Default() Profile {
	return Profile{
		Avatar:     session.AvatarCyberPunk,
		Monitoring: Monitoring{Keyboard: true, Mouse: true},
	}
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if !p.Avatar.Valid() {
		return ErrInvalidAvatar
	}
	if p.Monitoring.Enabled() < 1 {
		return ErrNoMonitoring
	}
	return nil
}

// Participant builds the session participant for a fresh client run.
func (p Profile) Participant(id string) session.Participant {
	return session.Participant{
		ID:         id,
		Name:       strings.TrimSpace(p.Name),
		Avatar:     p.Avatar,
		FocusScore: 50,
		Status:     session.ParticipantActive,
	}
}
