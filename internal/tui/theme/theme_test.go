package theme

import (
	"testing"

	"github.com/workaholi/focusroom/internal/session"
)

func TestScoreColor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0, string(ColorScoreLow)},
		{34.9, string(ColorScoreLow)},
		{35, string(ColorScoreMid)},
		{70, string(ColorScoreMid)},
		{70.1, string(ColorScoreHigh)},
		{100, string(ColorScoreHigh)},
	}
	for _, tt := range tests {
		if got := string(ScoreColor(tt.score)); got != tt.want {
			t.Errorf("ScoreColor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEveryAvatarHasGlyphAndColor(t *testing.T) {
	for _, a := range session.Avatars {
		if AvatarGlyph(a) == "·" {
			t.Errorf("avatar %s has no glyph", a)
		}
		if AvatarColor(a) == ColorDefault && a != session.AvatarRoboFace {
			t.Errorf("avatar %s has no color", a)
		}
	}
	if AvatarGlyph("unknown") != "·" {
		t.Error("unknown avatar should fall back to a dot")
	}
}
