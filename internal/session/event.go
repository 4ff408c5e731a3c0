package session

// EventType classifies roster membership changes.
type EventType int

const (
	EventJoined EventType = iota // id present now, absent before
	EventLeft                    // id present before, absent now
)

// Event reports one membership change between two roster snapshots.
type Event struct {
	Type          EventType
	ParticipantID string
}

// DiffRoster compares two roster snapshots. An empty prev is treated as
// initial hydration and yields no events.
func DiffRoster(prev, cur []Participant) []Event {
	if len(prev) == 0 {
		return nil
	}
	before := make(map[string]bool, len(prev))
	for _, p := range prev {
		before[p.ID] = true
	}
	now := make(map[string]bool, len(cur))
	var events []Event
	for _, p := range cur {
		now[p.ID] = true
		if !before[p.ID] {
			events = append(events, Event{Type: EventJoined, ParticipantID: p.ID})
		}
	}
	for _, p := range prev {
		if !now[p.ID] {
			events = append(events, Event{Type: EventLeft, ParticipantID: p.ID})
		}
	}
	return events
}
