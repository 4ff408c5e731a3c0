package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/workaholi/focusroom/internal/record"
)

// participantPayload is the stored shape of a participant: the public
// fields plus the heartbeat timestamp only the presence sweep reads.
type participantPayload struct {
	Participant
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func encodeSession(s *Session) (json.RawMessage, error) {
	return json.Marshal(s)
}

// SessionRecord builds the stored record for s.
func SessionRecord(s *Session) (record.Record, error) {
	payload, err := encodeSession(s)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{
		ID:        s.ID,
		Type:      record.TypeSession,
		Payload:   payload,
		SessionID: s.ID,
	}, nil
}

// DecodeSession parses a session record.
func DecodeSession(rec record.Record) (*Session, error) {
	var s Session
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", rec.ID, err)
	}
	if s.ID == "" {
		s.ID = rec.ID
	}
	return &s, nil
}

// ParticipantRecord builds the stored record for p, tagged with its session
// and stamped with the given heartbeat.
func ParticipantRecord(p Participant, sessionID string, heartbeat time.Time) (record.Record, error) {
	payload, err := json.Marshal(participantPayload{Participant: p, LastHeartbeat: heartbeat})
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{
		ID:        p.ID,
		Type:      record.TypeParticipant,
		Payload:   payload,
		SessionID: sessionID,
	}, nil
}

// DecodeParticipant parses a participant record, returning the public
// participant and its last heartbeat separately.
func DecodeParticipant(rec record.Record) (Participant, time.Time, error) {
	var pp participantPayload
	if err := json.Unmarshal(rec.Payload, &pp); err != nil {
		return Participant{}, time.Time{}, fmt.Errorf("decode participant %s: %w", rec.ID, err)
	}
	if pp.ID == "" {
		pp.ID = rec.ID
	}
	return pp.Participant, pp.LastHeartbeat, nil
}
