package cli

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/monitor"
	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/profile"
	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/record/remote"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/tui/app"
	"github.com/workaholi/focusroom/internal/ws"
)

// wired holds the client's wiring to the shared store: a focusd server when
// one is configured, otherwise an in-process room.
type wired struct {
	server   string
	store    record.Store
	remote   *remote.Store
	watcher  *remote.Watcher
	registry *session.Registry
	tracker  *presence.Tracker
	pings    *ping.Channel
	profiles *profile.Repository
}

func wireApp(cfg *viper.Viper) (*wired, error) {
	profiles, err := profile.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire profile repository: %w", err)
	}

	w := &wired{profiles: profiles}
	server := strings.TrimRight(cfg.GetString(keyServer), "/")
	if server != "" {
		token := cfg.GetString(keyToken)
		w.server = server
		w.remote = remote.NewStore(server, token)
		w.watcher = remote.NewWatcher(remote.WatchURL(server), token)
		w.store = w.remote
	} else {
		w.server = "local"
		w.store = record.Instrument(record.NewMemoryStore())
	}

	w.registry = session.NewRegistry(w.store)
	w.tracker = presence.NewTracker(w.store, w.registry)
	w.pings = ping.NewChannel(w.store)
	return w, nil
}

// deps adapts the wiring for the TUI.
func (w *wired) deps() app.Deps {
	d := app.Deps{
		Profiles: w.profiles,
		Registry: w.registry,
		Tracker:  w.tracker,
		Pings:    w.pings,
		NewDetector: func(programs []string) app.PresenceDetector {
			return monitor.NewProcessDetector(programs)
		},
		Server: w.server,
	}
	if w.watcher != nil {
		watcher := w.watcher
		d.Watch = func(ctx context.Context, onChange func(string)) {
			watcher.Run(ctx, func(ch ws.ChangedPayload) {
				onChange(ch.SessionID)
			})
		}
	}
	if w.remote != nil {
		d.Leave = w.remote.Leave
	}
	return d
}

func (w *wired) logf(format string, args ...interface{}) {
	log.Printf("[focus] "+format, args...)
}
