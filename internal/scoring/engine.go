package scoring

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	DefaultDecayInterval    = 2 * time.Second
	DefaultPresenceInterval = 500 * time.Millisecond
	DefaultPointerThrottle  = 50 * time.Millisecond
)

// Detector reports whether the user currently appears present.
type Detector interface {
	Present(ctx context.Context) (bool, error)
}

// Config selects which inputs feed the engine.
type Config struct {
	Weights  Weights
	Mouse    bool
	Keyboard bool
	// Detector is optional; presence ticks run only when it is set.
	Detector Detector

	DecayInterval    time.Duration
	PresenceInterval time.Duration
	PointerThrottle  time.Duration
	Now              func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = DefaultDecayInterval
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = DefaultPresenceInterval
	}
	if c.PointerThrottle <= 0 {
		c.PointerThrottle = DefaultPointerThrottle
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine owns the live score of the local participant. Input callbacks are
// safe to call from any goroutine.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	state    State
	lastMove time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, state: Initial()}
}

// Start launches the decay and presence tickers. They run until ctx is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	decay := time.NewTicker(e.cfg.DecayInterval)
	defer decay.Stop()

	var presenceC <-chan time.Time
	if e.cfg.Detector != nil {
		presence := time.NewTicker(e.cfg.PresenceInterval)
		defer presence.Stop()
		presenceC = presence.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-decay.C:
			e.apply(Event{Kind: DecayTick})
		case <-presenceC:
			e.checkPresence(ctx)
		}
	}
}

func (e *Engine) checkPresence(ctx context.Context) {
	if e.Paused() {
		return
	}
	present, err := e.cfg.Detector.Present(ctx)
	if err != nil {
		log.Printf("[scoring] presence check: %v", err)
		return
	}
	e.Presence(present)
}

// Stop releases the tickers and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			return
		}
		e.cancel()
		<-e.done
	})
}

func (e *Engine) apply(ev Event) {
	e.mu.Lock()
	e.state = e.cfg.Weights.Apply(e.state, ev)
	e.mu.Unlock()
}

// Pointer records a pointer move. Moves closer together than the throttle
// interval are dropped.
func (e *Engine) Pointer() {
	if !e.cfg.Mouse {
		return
	}
	now := e.cfg.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastMove.IsZero() && now.Sub(e.lastMove) < e.cfg.PointerThrottle {
		return
	}
	e.lastMove = now
	e.state = e.cfg.Weights.Apply(e.state, Event{Kind: PointerMove})
}

func (e *Engine) Click() {
	if e.cfg.Mouse {
		e.apply(Event{Kind: PointerClick})
	}
}

func (e *Engine) Key() {
	if e.cfg.Keyboard {
		e.apply(Event{Kind: KeyDown})
	}
}

// Presence records one presence observation.
func (e *Engine) Presence(present bool) {
	e.apply(Event{Kind: PresenceTick, Present: present})
}

func (e *Engine) Score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Score
}

func (e *Engine) Pause() {
	e.mu.Lock()
	e.state.Paused = true
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.state.Paused = false
	e.mu.Unlock()
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Paused
}
