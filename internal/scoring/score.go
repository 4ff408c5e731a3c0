// Package scoring turns input activity and presence into a focus score.
package scoring

const (
	MinScore     = 0.0
	MaxScore     = 100.0
	InitialScore = 50.0
)

// Kind enumerates the closed set of scoring events.
type Kind int

const (
	PointerMove Kind = iota
	PointerClick
	KeyDown
	PresenceTick
	DecayTick
)

var kindNames = map[Kind]string{
	PointerMove:  "pointer_move",
	PointerClick: "pointer_click",
	KeyDown:      "key_down",
	PresenceTick: "presence_tick",
	DecayTick:    "decay_tick",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one scoring input. Present is only meaningful for PresenceTick.
type Event struct {
	Kind    Kind
	Present bool
}

// State is the engine's scoring state.
type State struct {
	Score  float64
	Paused bool
}

// Initial returns the state a fresh session starts with.
func Initial() State {
	return State{Score: InitialScore}
}

// Weights are the per-event score deltas.
type Weights struct {
	MouseBoost     float64
	KeyBoost       float64
	PresenceBoost  float64
	AbsencePenalty float64
	DecayRate      float64
}

// DefaultWeights: a move is worth a tenth of a click, and a detected
// presence outweighs one decay step.
var DefaultWeights = Weights{
	MouseBoost:     10,
	KeyBoost:       15,
	PresenceBoost:  6,
	AbsencePenalty: 2,
	DecayRate:      4,
}

// Delta returns the raw score change for ev.
func (w Weights) Delta(ev Event) float64 {
	switch ev.Kind {
	case PointerMove:
		return w.MouseBoost * 0.1
	case PointerClick:
		return w.MouseBoost
	case KeyDown:
		return w.KeyBoost
	case PresenceTick:
		if ev.Present {
			return w.PresenceBoost
		}
		return -w.AbsencePenalty
	case DecayTick:
		return -w.DecayRate
	}
	return 0
}

// Apply returns the state after ev. A paused state is returned unchanged.
func (w Weights) Apply(s State, ev Event) State {
	if s.Paused {
		return s
	}
	s.Score = clamp(s.Score + w.Delta(ev))
	return s
}

// Apply scores ev with DefaultWeights.
func Apply(s State, ev Event) State {
	return DefaultWeights.Apply(s, ev)
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
