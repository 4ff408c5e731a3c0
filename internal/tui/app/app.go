package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/monitor"
	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/profile"
	"github.com/workaholi/focusroom/internal/reconcile"
	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/scoring"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/tui/theme"
	"github.com/workaholi/focusroom/internal/tui/views/feed"
	"github.com/workaholi/focusroom/internal/tui/views/help"
	"github.com/workaholi/focusroom/internal/tui/views/onboarding"
	"github.com/workaholi/focusroom/internal/tui/views/roster"
	"github.com/workaholi/focusroom/internal/tui/views/status"
)

// Phase identifies which screen is active.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseOnboarding
	PhaseLobby
	PhaseWorkspace
	PhaseLeaving
)

const leaveTimeout = 5 * time.Second

// ProfileStore loads and saves the local profile.
type ProfileStore interface {
	Load(ctx context.Context) (profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) error
}

// PresenceDetector is a scoring detector that reports its own health.
type PresenceDetector interface {
	scoring.Detector
	Status() monitor.Status
}

// Deps wires the TUI to the shared store.
type Deps struct {
	Profiles ProfileStore
	Registry *session.Registry
	Tracker  *presence.Tracker
	Pings    *ping.Channel

	// NewDetector builds the process presence detector. Optional.
	NewDetector func(programs []string) PresenceDetector
	// Watch streams change notifications until ctx ends, calling onChange
	// with the affected session id. Optional.
	Watch func(ctx context.Context, onChange func(sessionID string))
	// Leave removes a participant out of band when the regular leave
	// fails. Optional.
	Leave func(ctx context.Context, participantID string) error

	// Server labels the status bar.
	Server string
	// Bell receives the audible cues.
	Bell  io.Writer
	Now   func() time.Time
	NewID func() string
}

// live is the state of a joined session. It is shared by pointer between
// model copies and the background goroutines.
type live struct {
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	engine   *scoring.Engine
	loop     *reconcile.Loop
	bridge   *bridge
	detector PresenceDetector
	session  *session.Session
	creator  bool

	mu      sync.Mutex
	elapsed int
	running bool
	left    bool
}

func (l *live) snapshot() reconcile.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return reconcile.Snapshot{
		Score:          l.engine.Score(),
		ElapsedSeconds: l.elapsed,
		Paused:         !l.running,
	}
}

// Messages.
type (
	profileLoadedMsg struct {
		p   profile.Profile
		err error
	}
	profileSavedMsg struct {
		p   profile.Profile
		err error
	}
	lobbyMsg struct {
		sessions []*session.Session
		err      error
	}
	joinedMsg struct {
		live *live
		err  error
	}
	pingSentMsg struct {
		to    string
		emoji string
		err   error
	}
	leftMsg   struct{ err error }
	clockMsg  struct{}
	frameMsg  struct{}
	statusMsg struct{ err error }
)

// Model is the root Bubble Tea model.
type Model struct {
	deps   Deps
	keys   KeyMap
	selfID string
	width  int
	height int

	phase    Phase
	profile  profile.Profile
	form     onboarding.Model
	sessions []*session.Session
	selected int
	lobbyErr string
	busy     bool

	live     *live
	roster   roster.Model
	feed     feed.Model
	status   status.Model
	showHelp bool
}

// New creates the root model. A fresh participant id is drawn for every
// client run.
func New(deps Deps) Model {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = record.NewID
	}
	id := deps.NewID()
	return Model{
		deps:   deps,
		keys:   DefaultKeyMap(),
		selfID: id,
		phase:  PhaseLoading,
		roster: roster.New(id),
		feed:   feed.New(),
		status: status.New(deps.Server),
	}
}

// SelfID returns the participant id of this client run.
func (m Model) SelfID() string {
	return m.selfID
}

func (m Model) Phase() Phase {
	return m.phase
}

func (m Model) Init() tea.Cmd {
	return m.loadProfile()
}

func (m Model) loadProfile() tea.Cmd {
	store := m.deps.Profiles
	return func() tea.Msg {
		if store == nil {
			return profileLoadedMsg{p: profile.Default(), err: profile.ErrNotFound}
		}
		p, err := store.Load(context.Background())
		return profileLoadedMsg{p: p, err: err}
	}
}

func (m Model) saveProfile(p profile.Profile) tea.Cmd {
	store := m.deps.Profiles
	return func() tea.Msg {
		if err := p.Validate(); err != nil {
			return profileSavedMsg{p: p, err: err}
		}
		if store == nil {
			return profileSavedMsg{p: p}
		}
		return profileSavedMsg{p: p, err: store.Save(context.Background(), p)}
	}
}

func (m Model) refreshLobby() tea.Cmd {
	reg := m.deps.Registry
	return func() tea.Msg {
		sessions, err := reg.ListJoinable(context.Background())
		return lobbyMsg{sessions: sessions, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.status.Width = msg.Width
		m.roster.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.ForceQ) {
			return m.quit()
		}
		switch m.phase {
		case PhaseOnboarding:
			return m.updateOnboarding(msg)
		case PhaseLobby:
			return m.updateLobby(msg)
		case PhaseWorkspace:
			return m.updateWorkspace(msg)
		}
		return m, nil

	case tea.MouseMsg:
		if m.phase == PhaseWorkspace && m.live != nil {
			switch msg.Action {
			case tea.MouseActionMotion:
				m.live.engine.Pointer()
			case tea.MouseActionPress:
				m.live.engine.Click()
			}
		}
		return m, nil

	case profileLoadedMsg:
		if msg.err != nil && !errors.Is(msg.err, profile.ErrNotFound) {
			log.Printf("Loading profile: %v", msg.err)
		}
		if msg.err == nil && msg.p.Validate() == nil {
			m.profile = msg.p
			m.phase = PhaseLobby
			return m, m.refreshLobby()
		}
		p := msg.p
		if msg.err != nil {
			p = profile.Default()
		}
		m.form = onboarding.New(p)
		m.phase = PhaseOnboarding
		return m, nil

	case profileSavedMsg:
		if msg.err != nil {
			m.form.Err = msg.err.Error()
			return m, nil
		}
		m.profile = msg.p
		m.phase = PhaseLobby
		return m, m.refreshLobby()

	case lobbyMsg:
		m.busy = false
		if msg.err != nil {
			m.lobbyErr = msg.err.Error()
			return m, nil
		}
		m.sessions = msg.sessions
		if m.selected >= len(m.sessions) {
			m.selected = 0
		}
		return m, nil

	case joinedMsg:
		m.busy = false
		if msg.err != nil {
			if errors.Is(msg.err, session.ErrNoJoinable) {
				m.lobbyErr = "No available sessions"
			} else {
				m.lobbyErr = msg.err.Error()
			}
			return m, m.refreshLobby()
		}
		return m.enterWorkspace(msg.live)

	case rosterMsg:
		if m.live == nil {
			return m, nil
		}
		m.roster.SetRoster(msg.roster, msg.overrides)
		m.roster.SetScore(m.selfID, m.live.engine.Score())
		m.status.Members = len(msg.roster)
		return m, m.live.bridge.wait()

	case pingMsg:
		m.feed.Add(m.deps.Now(), feed.KindPing, fmt.Sprintf("%s pinged you %s", msg.from, msg.emoji))
		return m, m.waitLoop()

	case membershipMsg:
		for _, n := range msg.joined {
			m.feed.Add(m.deps.Now(), feed.KindJoin, n+" joined")
		}
		for _, n := range msg.left {
			m.feed.Add(m.deps.Now(), feed.KindLeft, n+" left")
		}
		return m, m.waitLoop()

	case pingSentMsg:
		if msg.err != nil {
			m.feed.Add(m.deps.Now(), feed.KindErr, "ping failed: "+msg.err.Error())
		} else {
			m.feed.Add(m.deps.Now(), feed.KindPing, fmt.Sprintf("sent %s to %s", msg.emoji, msg.to))
		}
		return m, nil

	case statusMsg:
		if msg.err != nil {
			m.feed.Add(m.deps.Now(), feed.KindErr, "session status: "+msg.err.Error())
		}
		return m, nil

	case clockMsg:
		if m.live == nil {
			return m, nil
		}
		return m.tickClock()

	case frameMsg:
		if m.live == nil {
			return m, nil
		}
		score := m.live.engine.Score()
		m.roster.SetScore(m.selfID, score)
		m.roster.Animate()
		m.status.Score = score
		if m.live.detector != nil {
			m.status.Presence = m.live.detector.Status()
		}
		return m, frame()

	case leftMsg:
		if msg.err != nil {
			log.Printf("Leaving session: %v", msg.err)
		}
		return m, tea.Quit
	}

	if m.phase == PhaseOnboarding {
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) waitLoop() tea.Cmd {
	if m.live == nil {
		return nil
	}
	return m.live.bridge.wait()
}

func (m Model) updateOnboarding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Enter) {
		p := m.form.Profile()
		if err := p.Validate(); err != nil {
			m.form.Err = err.Error()
			return m, nil
		}
		return m, m.saveProfile(p)
	}
	var cmd tea.Cmd
	m.form, cmd = m.form.Update(msg)
	return m, cmd
}

func (m Model) updateLobby(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Down):
		if len(m.sessions) > 0 {
			m.selected = (m.selected + 1) % len(m.sessions)
		}
	case key.Matches(msg, m.keys.Up):
		if len(m.sessions) > 0 {
			m.selected = (m.selected - 1 + len(m.sessions)) % len(m.sessions)
		}
	case key.Matches(msg, m.keys.Refresh):
		m.lobbyErr = ""
		return m, m.refreshLobby()
	case key.Matches(msg, m.keys.Create):
		m.busy, m.lobbyErr = true, ""
		return m, m.join("", true)
	case key.Matches(msg, m.keys.Join):
		m.busy, m.lobbyErr = true, ""
		return m, m.join("", false)
	case key.Matches(msg, m.keys.Enter):
		if len(m.sessions) == 0 {
			m.lobbyErr = "No available sessions"
			return m, nil
		}
		m.busy, m.lobbyErr = true, ""
		return m, m.join(m.sessions[m.selected].ID, false)
	}
	return m, nil
}

// join creates a session when create is set, otherwise joins sessionID or
// the newest joinable session when it is empty.
func (m Model) join(sessionID string, create bool) tea.Cmd {
	deps := m.deps
	self := m.profile.Participant(m.selfID)
	mon := m.profile.Monitoring
	return func() tea.Msg {
		ctx := context.Background()
		var s *session.Session
		var err error
		switch {
		case create:
			s, err = deps.Registry.Create(ctx)
			self.IsSessionCreator = true
		case sessionID != "":
			s, err = deps.Registry.Get(ctx, sessionID)
		default:
			s, err = deps.Registry.MostRecentJoinable(ctx)
		}
		if err != nil {
			return joinedMsg{err: err}
		}
		if s, err = deps.Registry.Join(ctx, s.ID, self); err != nil {
			return joinedMsg{err: err}
		}
		return joinedMsg{live: start(deps, s, self, mon)}
	}
}

// start launches the scoring engine, the reconciliation loop and the
// change watcher for a joined session. The timer starts paused.
func start(deps Deps, s *session.Session, self session.Participant, mon profile.Monitoring) *live {
	ctx, cancel := context.WithCancel(context.Background())
	l := &live{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		session: s,
		creator: self.IsSessionCreator,
	}

	cfg := scoring.Config{Mouse: mon.Mouse, Keyboard: mon.Keyboard, Now: deps.Now}
	if mon.Presence && deps.NewDetector != nil {
		l.detector = deps.NewDetector(mon.Programs)
		cfg.Detector = l.detector
	}
	l.engine = scoring.NewEngine(cfg)
	l.engine.Pause()
	l.engine.Start(ctx)

	l.bridge = newBridge(ctx, deps.Bell)
	l.loop = reconcile.New(reconcile.Config{
		SessionID: s.ID,
		Self:      self,
		Local:     l.snapshot,
		Registry:  deps.Registry,
		Heartbeat: deps.Tracker,
		Inbox:     deps.Pings,
		Effects:   l.bridge,
		Renderer:  l.bridge,
		Now:       deps.Now,
	})
	l.bridge.loop = l.loop

	go func() {
		defer close(l.done)
		l.loop.Run(ctx)
	}()
	if deps.Watch != nil {
		go deps.Watch(ctx, func(sessionID string) {
			if sessionID == "" || sessionID == s.ID {
				l.loop.Nudge()
			}
		})
	}
	return l
}

func (m Model) enterWorkspace(l *live) (tea.Model, tea.Cmd) {
	m.live = l
	m.phase = PhaseWorkspace
	m.status.SessionID = l.session.ID
	m.status.MaxUsers = m.deps.Registry.MaxUsers()
	m.status.Members = len(l.session.ParticipantIDs)
	m.status.Running = false
	verb := "Joined"
	if l.creator {
		verb = "Created"
	}
	m.feed.Add(m.deps.Now(), feed.KindInfo, fmt.Sprintf("%s session %s. Press space to start.", verb, l.session.ID))
	return m, tea.Batch(l.bridge.wait(), clock(), frame())
}

func (m Model) updateWorkspace(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.live.engine.Key()

	if m.showHelp {
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Help) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
	case key.Matches(msg, m.keys.Toggle):
		return m.toggleTimer()
	case key.Matches(msg, m.keys.NextPeer):
		m.roster.CycleTarget(1)
	case key.Matches(msg, m.keys.PrevPeer):
		m.roster.CycleTarget(-1)
	case key.Matches(msg, m.keys.Escape):
		m.roster.Target = ""
	case key.Matches(msg, m.keys.ScrollUp):
		m.feed.ScrollUp(5)
	case key.Matches(msg, m.keys.ScrollDn):
		m.feed.ScrollDown(5)
	case key.Matches(msg, m.keys.Glyph):
		return m.sendPing(msg.String())
	}
	return m, nil
}

func (m Model) sendPing(digit string) (tea.Model, tea.Cmd) {
	target := m.roster.Target
	if target == "" {
		m.feed.Add(m.deps.Now(), feed.KindInfo, "Pick someone with tab first.")
		return m, nil
	}
	idx := int(digit[0] - '1')
	if idx < 0 || idx >= len(ping.Glyphs) {
		return m, nil
	}
	glyph := ping.Glyphs[idx]
	name := m.roster.Name(target)
	m.roster.Target = ""

	pings, ctx, from := m.deps.Pings, m.live.ctx, m.selfID
	return m, func() tea.Msg {
		_, err := pings.Send(ctx, from, target, glyph)
		return pingSentMsg{to: name, emoji: glyph, err: err}
	}
}

func (m Model) toggleTimer() (tea.Model, tea.Cmd) {
	l := m.live
	l.mu.Lock()
	l.running = !l.running
	running := l.running
	l.mu.Unlock()

	if running {
		l.engine.Resume()
		m.feed.Add(m.deps.Now(), feed.KindInfo, "Timer started")
	} else {
		l.engine.Pause()
		m.feed.Add(m.deps.Now(), feed.KindInfo, "Timer paused")
	}
	m.status.Running = running
	l.loop.Nudge()

	if !l.creator {
		return m, nil
	}
	next := session.Paused
	if running {
		next = session.Running
	}
	return m, m.setSessionStatus(next)
}

func (m Model) setSessionStatus(st session.Status) tea.Cmd {
	reg, ctx, id := m.deps.Registry, m.live.ctx, m.live.session.ID
	return func() tea.Msg {
		return statusMsg{err: reg.SetStatus(ctx, id, st)}
	}
}

// tickClock advances the local timer by one second while running and
// completes the session once its planned duration has elapsed.
func (m Model) tickClock() (tea.Model, tea.Cmd) {
	l := m.live
	limit := l.session.DurationMinutes * 60

	l.mu.Lock()
	if l.running {
		l.elapsed++
	}
	elapsed := l.elapsed
	finished := l.running && limit > 0 && elapsed >= limit
	if finished {
		l.running = false
	}
	l.mu.Unlock()

	m.status.Elapsed = elapsed
	cmds := []tea.Cmd{clock()}
	if finished {
		l.engine.Pause()
		m.status.Running = false
		m.feed.Add(m.deps.Now(), feed.KindInfo, "Session time is up. Nice work.")
		if l.creator {
			cmds = append(cmds, m.setSessionStatus(session.Completed))
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.live == nil || m.phase == PhaseLeaving {
		return m, tea.Quit
	}
	m.phase = PhaseLeaving
	l, deps, id := m.live, m.deps, m.selfID
	return m, func() tea.Msg {
		return leftMsg{err: l.leave(deps, id)}
	}
}

// leave stops the background work, then removes the participant. The loop
// must have exited first so it cannot rejoin after the leave.
func (l *live) leave(deps Deps, selfID string) error {
	l.mu.Lock()
	if l.left {
		l.mu.Unlock()
		return nil
	}
	l.left = true
	l.mu.Unlock()

	l.cancel()
	<-l.done
	l.engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	err := l.loop.Leave(ctx)
	if err != nil && deps.Leave != nil {
		log.Printf("Leave via store failed, using leave endpoint: %v", err)
		err = deps.Leave(ctx, selfID)
	}
	return err
}

// Close leaves the session if the program exited without doing so.
func (m Model) Close() error {
	if m.live == nil {
		return nil
	}
	return m.live.leave(m.deps, m.selfID)
}

func clock() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return clockMsg{} })
}

func frame() tea.Cmd {
	return tea.Tick(roster.FrameInterval, func(time.Time) tea.Msg { return frameMsg{} })
}

// View renders the active screen.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	switch m.phase {
	case PhaseLoading:
		return "Loading profile..."
	case PhaseOnboarding:
		return m.form.View()
	case PhaseLobby:
		return m.lobbyView()
	case PhaseLeaving:
		return theme.StyleDimmed.Render("Leaving session...")
	}

	if m.showHelp {
		return help.View(m.keys.Workspace(), ping.Glyphs, m.width)
	}
	feedHeight := m.height - m.roster.Len() - 10
	if feedHeight < 3 {
		feedHeight = 3
	}
	sections := []string{
		m.status.View(),
		theme.StyleHeader.Render("ROOM"),
		m.roster.View(),
		"",
		m.pingBar(),
		"",
		theme.StyleHeader.Render("FEED"),
		m.feed.View(m.width, feedHeight),
		theme.StyleDimmed.Render("  space:start/pause  tab:target  1-8:ping  ?:help  q:leave"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) pingBar() string {
	if m.roster.Target == "" {
		return theme.StyleDimmed.Render("  tab: pick someone to ping")
	}
	parts := make([]string, len(ping.Glyphs))
	for i, g := range ping.Glyphs {
		parts[i] = fmt.Sprintf("%d%s", i+1, g)
	}
	return fmt.Sprintf("  ping %s: %s", theme.StyleSelected.Render(m.roster.Name(m.roster.Target)), strings.Join(parts, " "))
}

func (m Model) lobbyView() string {
	lines := []string{
		m.status.View(),
		theme.StyleHeader.Render(fmt.Sprintf("Hi %s %s", theme.AvatarGlyph(m.profile.Avatar), m.profile.Name)),
		"",
		theme.StyleHeader.Render("OPEN SESSIONS"),
	}
	if len(m.sessions) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  none yet"))
	}
	capacity := m.deps.Registry.MaxUsers()
	for i, s := range m.sessions {
		prefix := "  "
		if i == m.selected {
			prefix = "> "
		}
		age := m.deps.Now().Sub(s.StartTime).Truncate(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s  %d/%d  %-9s  %s ago",
			prefix, s.ID, len(s.ParticipantIDs), capacity, s.Status, age))
	}
	lines = append(lines, "")
	if m.busy {
		lines = append(lines, theme.StyleDimmed.Render("Working..."))
	}
	if m.lobbyErr != "" {
		lines = append(lines, theme.StyleError.Render(m.lobbyErr))
	}
	lines = append(lines, theme.StyleDimmed.Render("  c:create  a:join newest  enter:join selected  r:refresh  q:quit"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
