package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/testutil"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

type fakeTraktProbe struct {
	configured bool
	err        error
}

func (f fakeTraktProbe) IsConfigured() bool { return f.configured }

func (f fakeTraktProbe) GetProfile(context.Context) (*trakt.UserProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &trakt.UserProfile{Username: "sean"}, nil
}

type fakeEmbyProbe struct{ err error }

func (f fakeEmbyProbe) Ping(context.Context) (*emby.SystemInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &emby.SystemInfo{ServerName: "den", Version: "4.8.0"}, nil
}

func newChecker(t *testing.T, settings map[string]string, tp TraktProbe, ep EmbyProbe) (*Checker, *state.Store) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	store := state.New(tdb.Conn, settings, zerolog.Nop())
	return NewChecker(store, func(*state.Settings) (TraktProbe, EmbyProbe) { return tp, ep }, zerolog.Nop()), store
}

func statuses(r *CheckReport) map[string]CheckStatus {
	out := map[string]CheckStatus{}
	for _, c := range r.Checks {
		out[c.Name] = c.Status
	}
	return out
}

func TestCheck_AllGood(t *testing.T) {
	c, store := newChecker(t, completeSettings, fakeTraktProbe{configured: true}, fakeEmbyProbe{})
	_, err := store.CreateMapping(context.Background(), state.Mapping{TraktList: "1", CollectionName: "A", MediaKind: state.MediaMovie})
	require.NoError(t, err)

	report, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, map[string]CheckStatus{
		"configuration": CheckPass,
		"mappings":      CheckPass,
		"emby":          CheckPass,
		"trakt":         CheckPass,
	}, statuses(report))
}

func TestCheck_ReportsProblems(t *testing.T) {
	c, _ := newChecker(t, map[string]string{},
		fakeTraktProbe{configured: false},
		fakeEmbyProbe{})

	report, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK)
	got := statuses(report)
	assert.Equal(t, CheckFail, got["configuration"])
	assert.Equal(t, CheckWarn, got["mappings"])
	assert.Equal(t, CheckFail, got["emby"])
	assert.Equal(t, CheckFail, got["trakt"])
}

func TestCheck_RemoteFailures(t *testing.T) {
	c, _ := newChecker(t, completeSettings,
		fakeTraktProbe{configured: true, err: trakt.ErrAuth},
		fakeEmbyProbe{err: fmt.Errorf("ping: %w", emby.ErrNetwork)})

	report, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK)
	for _, r := range report.Checks {
		switch r.Name {
		case "trakt":
			assert.Contains(t, r.Detail, "not authorized")
		case "emby":
			assert.Contains(t, r.Detail, "unreachable")
		}
	}
}
