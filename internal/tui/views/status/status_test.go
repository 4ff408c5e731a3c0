package status

import (
	"strings"
	"testing"

	"github.com/workaholi/focusroom/internal/monitor"
)

func TestViewLobby(t *testing.T) {
	v := New("local").View()
	if !strings.Contains(v, "lobby") {
		t.Errorf("status outside a session should say lobby:\n%s", v)
	}
}

func TestViewSession(t *testing.T) {
	m := New("http://127.0.0.1:8080")
	m.SessionID = "abc1234"
	m.Members, m.MaxUsers = 2, 4
	m.Elapsed = 65
	m.Score = 72
	m.Running = true
	m.Presence = monitor.StatusDegraded
	m.Width = 120

	v := m.View()
	for _, want := range []string{"session abc1234  2/4", "▶ 01:05", "focus 72", "presence: degraded"} {
		if !strings.Contains(v, want) {
			t.Errorf("status missing %q:\n%s", want, v)
		}
	}
}

func TestViewPaused(t *testing.T) {
	m := New("local")
	m.SessionID = "abc1234"
	m.Width = 120
	if v := m.View(); !strings.Contains(v, "❚❚ 00:00") {
		t.Errorf("paused timer not shown:\n%s", v)
	}
}
