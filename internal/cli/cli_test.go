package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/ws"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("FOCUS_SERVER", "")
	t.Setenv("FOCUS_TOKEN", "")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func profilePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "profile.toml")
}

func newFocusd(t *testing.T, token string) (*httptest.Server, *session.Registry) {
	t.Helper()
	b := ws.NewBroadcaster(nil, 10*time.Millisecond, time.Hour, 0)
	store := record.Notifying(record.NewMemoryStore(), b.Notify)
	reg := session.NewRegistry(store)
	srv := httptest.NewServer(ws.NewServer(store, reg, b, nil, token).Handler())
	t.Cleanup(func() {
		b.Stop()
		srv.Close()
	})
	return srv, reg
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestProfileSetThenShow(t *testing.T) {
	path := profilePath(t)

	stdout, _, err := executeCLI(t, "profile", "set", "--profile", path,
		"--name", "ada", "--avatar", "neon-cat", "--mouse=false", "--presence", "--program", "nvim,code")
	require.NoError(t, err)
	assert.Contains(t, stdout, "saved profile for ada")

	stdout, _, err = executeCLI(t, "profile", "show", "--profile", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "name:\tada")
	assert.Contains(t, stdout, "avatar:\tneon-cat")
	assert.Contains(t, stdout, "monitoring:\tkeyboard, presence")
	assert.Contains(t, stdout, "programs:\tnvim, code")
}

func TestProfileSetKeepsUnchangedFields(t *testing.T) {
	path := profilePath(t)
	_, _, err := executeCLI(t, "profile", "set", "--profile", path, "--name", "ada", "--avatar", "matrix-eye")
	require.NoError(t, err)

	_, _, err = executeCLI(t, "profile", "set", "--profile", path, "--name", "grace")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "profile", "show", "--profile", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "name:\tgrace")
	assert.Contains(t, stdout, "avatar:\tmatrix-eye")
}

func TestProfileSetValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing name", []string{}, "name is required"},
		{"bad avatar", []string{"--name", "ada", "--avatar", "unicorn"}, "unknown avatar"},
		{"no monitoring", []string{"--name", "ada", "--keyboard=false", "--mouse=false"}, "at least one monitoring module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"profile", "set", "--profile", profilePath(t)}, tt.args...)
			_, _, err := executeCLI(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestProfileShowMissing(t *testing.T) {
	_, _, err := executeCLI(t, "profile", "show", "--profile", profilePath(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no profile at")
}

func TestSessionsLocalRoomIsEmpty(t *testing.T) {
	stdout, _, err := executeCLI(t, "sessions", "--profile", profilePath(t))
	require.NoError(t, err)
	assert.Equal(t, "No available sessions\n", stdout)
}

func TestSessionsFromServer(t *testing.T) {
	srv, reg := newFocusd(t, "tok")
	ctx := context.Background()
	s, err := reg.Create(ctx)
	require.NoError(t, err)
	_, err = reg.Join(ctx, s.ID, session.Participant{ID: "p1", Name: "ada", Avatar: session.AvatarNeonCat})
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "sessions", "--server", srv.URL, "--token", "tok", "--profile", profilePath(t))
	require.NoError(t, err)
	assert.Contains(t, stdout, s.ID+"\t1/4\tidle\t")
}

func TestSessionsServerFromEnv(t *testing.T) {
	srv, reg := newFocusd(t, "")
	s, err := reg.Create(context.Background())
	require.NoError(t, err)

	root := newRootCmd()
	t.Setenv("FOCUS_SERVER", srv.URL)
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetArgs([]string{"sessions", "--profile", profilePath(t)})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), s.ID)
}

func TestSessionsUnauthorized(t *testing.T) {
	srv, _ := newFocusd(t, "tok")
	_, _, err := executeCLI(t, "sessions", "--server", srv.URL, "--token", "wrong", "--profile", profilePath(t))
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv, _ := newFocusd(t, "")
	stdout, _, err := executeCLI(t, "health", "--server", srv.URL, "--profile", profilePath(t))
	require.NoError(t, err)
	assert.Contains(t, stdout, "status:\tok")
	assert.Contains(t, stdout, "clients:\t0")
}

func TestHealthNeedsServer(t *testing.T) {
	_, _, err := executeCLI(t, "health", "--profile", profilePath(t))
	require.ErrorIs(t, err, errNoServer)
}
