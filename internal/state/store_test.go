package state

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/crypto"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/testutil"
)

func newTestStore(t *testing.T, defaults map[string]string) *Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return New(tdb.Conn, defaults, zerolog.Nop())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSettings_DefaultsAndOverride(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, map[string]string{
		KeySyncInterval: "6h",
		KeyEmbyServer:   "http://emby.local:8096",
	})

	v, err := s.Get(ctx, KeySyncInterval)
	require.NoError(t, err)
	assert.Equal(t, "6h", v)

	require.NoError(t, s.Set(ctx, KeySyncInterval, "1d"))
	v, err = s.Get(ctx, KeySyncInterval)
	require.NoError(t, err)
	assert.Equal(t, "1d", v)

	// Clearing reverts to the bootstrap value.
	require.NoError(t, s.Set(ctx, KeySyncInterval, ""))
	v, err = s.Get(ctx, KeySyncInterval)
	require.NoError(t, err)
	assert.Equal(t, "6h", v)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSetting)
	assert.ErrorIs(t, s.SetMany(ctx, map[string]string{"nope": "x"}), ErrUnknownSetting)
}

func TestSettings_MissingRequired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	require.NoError(t, s.SetMany(ctx, map[string]string{
		KeyTraktClientID: "id",
		KeyEmbyServer:    "http://emby",
		KeySyncDate:      "15",
	}))

	cfg, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.SyncDate)
	assert.Equal(t, []string{
		KeyTraktClientSecret,
		KeyEmbyAPIKey,
		KeyEmbyAdminUserID,
		KeyEmbyMoviesLibraryID,
		KeyEmbyTVLibraryID,
	}, cfg.Missing())
}

func TestSettings_SecretsEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	tdb := testutil.NewTestDB(t)
	s := New(tdb.Conn, nil, zerolog.Nop())
	require.NoError(t, s.EnableEncryption(ctx, "passphrase"))

	require.NoError(t, s.Set(ctx, KeyEmbyAPIKey, "super-secret"))

	var raw string
	require.NoError(t, tdb.Conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, KeyEmbyAPIKey).Scan(&raw))
	assert.True(t, crypto.IsEncrypted(raw))

	// A second store over the same database derives the same key.
	other := New(tdb.Conn, nil, zerolog.Nop())
	require.NoError(t, other.EnableEncryption(ctx, "passphrase"))
	v, err := other.Get(ctx, KeyEmbyAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", v)

	// Non-secret keys stay readable.
	require.NoError(t, s.Set(ctx, KeyEmbyServer, "http://emby"))
	require.NoError(t, tdb.Conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, KeyEmbyServer).Scan(&raw))
	assert.Equal(t, "http://emby", raw)
}

func TestMappings_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	m, err := s.CreateMapping(ctx, Mapping{TraktList: " favourites ", CollectionName: "Favourites", MediaKind: "movies"})
	require.NoError(t, err)
	assert.Equal(t, "favourites", m.TraktList)
	assert.Equal(t, MediaMovie, m.MediaKind)
	assert.True(t, m.Enabled)

	_, err = s.CreateMapping(ctx, Mapping{TraktList: "favourites", CollectionName: "Favourites", MediaKind: MediaMovie})
	assert.ErrorIs(t, err, ErrDuplicateMapping)

	_, err = s.CreateMapping(ctx, Mapping{TraktList: "x", CollectionName: "X", MediaKind: "music"})
	assert.ErrorIs(t, err, ErrInvalidMapping)

	require.NoError(t, s.SetMappingEnabled(ctx, m.ID, false))
	got, err := s.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, s.DeleteMapping(ctx, m.ID))
	assert.ErrorIs(t, s.DeleteMapping(ctx, m.ID), ErrNotFound)
	_, err = s.GetMapping(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappings_Import(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	raw := `[
		{"list_id": "12345", "collection_name": "Watch Later", "type": "movies", "library_id": "1"},
		{"list_id": 678, "collection_name": "Binge", "type": "shows"}
	]`

	n, err := s.ImportMappings(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mappings, err := s.ListMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "12345", mappings[0].TraktList)
	assert.Equal(t, "678", mappings[1].TraktList)
	assert.Equal(t, MediaShow, mappings[1].MediaKind)

	// Second import is a no-op once mappings exist.
	n, err = s.ImportMappings(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseMappingSpecs(`{"not": "an array"}`)
	assert.ErrorIs(t, err, ErrInvalidMapping)
}

func TestIgnored_RemovesFromMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	m, err := s.CreateMapping(ctx, Mapping{TraktList: "l", CollectionName: "C", MediaKind: MediaMovie})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceMissing(ctx, m.ID, []MissingItem{
		{Key: "movie:trakt:1", MediaKind: MediaMovie, Title: "One", Year: 2001},
		{Key: "movie:trakt:2", MediaKind: MediaMovie, Title: "Two", Year: 2002},
		{Key: "movie:trakt:3", MediaKind: MediaMovie, Title: "Three", Year: 2003},
	}))

	item, err := s.FindMissing(ctx, "movie:trakt:2")
	require.NoError(t, err)
	assert.Equal(t, "Two", item.Title)

	_, err = s.AddIgnored(ctx, IgnoredItem{Key: "movie:trakt:2", Title: "Two", Year: 2002})
	require.NoError(t, err)

	missing, err := s.ListMissing(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, "movie:trakt:1", missing[0].Key)
	assert.Equal(t, "movie:trakt:3", missing[1].Key)

	// Replacing again with the ignored key present still excludes it.
	require.NoError(t, s.ReplaceMissing(ctx, m.ID, []MissingItem{
		{Key: "movie:trakt:2", MediaKind: MediaMovie, Title: "Two"},
	}))
	missing, err = s.ListMissing(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)

	ignored, err := s.ListIgnored(ctx)
	require.NoError(t, err)
	require.Len(t, ignored, 1)
	assert.Equal(t, MediaMovie, ignored[0].MediaKind)

	keys, err := s.IgnoredKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "movie:trakt:2")

	require.NoError(t, s.RemoveIgnored(ctx, "movie:trakt:2"))
	assert.ErrorIs(t, s.RemoveIgnored(ctx, "movie:trakt:2"), ErrNotFound)
}

func TestMissing_DeletedWithMapping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	m, err := s.CreateMapping(ctx, Mapping{TraktList: "l", CollectionName: "C", MediaKind: MediaShow})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMissing(ctx, m.ID, []MissingItem{{Key: "show:tvdb:9", MediaKind: MediaShow}}))

	require.NoError(t, s.DeleteMapping(ctx, m.ID))
	missing, err := s.ListMissing(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestTokens_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	require.NoError(t, s.EnableEncryption(ctx, "pw"))

	tok, err := s.LoadToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	expiry := time.Unix(1_900_000_000, 0)
	require.NoError(t, s.SaveToken(ctx, &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}))

	tok, err = s.LoadToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expiry))

	require.NoError(t, s.ClearToken(ctx))
	tok, err = s.LoadToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestLease_Exclusion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(clock.Now)

	require.NoError(t, s.AcquireLease(ctx, "scheduler", "scheduled", time.Hour))
	assert.ErrorIs(t, s.AcquireLease(ctx, "web", "manual", time.Hour), ErrSyncInProgress)

	lease, err := s.CurrentLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "scheduler", lease.Holder)

	// Releasing with the wrong holder does nothing.
	require.NoError(t, s.ReleaseLease(ctx, "web"))
	assert.ErrorIs(t, s.AcquireLease(ctx, "web", "manual", time.Hour), ErrSyncInProgress)

	require.NoError(t, s.ReleaseLease(ctx, "scheduler"))
	lease, err = s.CurrentLease(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)
	require.NoError(t, s.AcquireLease(ctx, "web", "manual", time.Hour))
}

func TestLease_ExpiredLeaseCanBeTaken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(clock.Now)

	require.NoError(t, s.AcquireLease(ctx, "crashed", "scheduled", 10*time.Minute))
	clock.Advance(11 * time.Minute)

	lease, err := s.CurrentLease(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)
	require.NoError(t, s.AcquireLease(ctx, "web", "manual", 10*time.Minute))
}

func TestLease_ExtendKeepsHolder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(clock.Now)

	require.NoError(t, s.AcquireLease(ctx, "scheduler", "scheduled", 10*time.Minute))
	clock.Advance(8 * time.Minute)
	require.NoError(t, s.ExtendLease(ctx, "scheduler", 10*time.Minute))

	// Past the original expiry the lease still belongs to the extender.
	clock.Advance(8 * time.Minute)
	assert.ErrorIs(t, s.AcquireLease(ctx, "web", "manual", time.Hour), ErrSyncInProgress)
	lease, err := s.CurrentLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "scheduler", lease.Holder)
	assert.Equal(t, clock.t.Add(2*time.Minute).Unix(), lease.ExpiresAt.Unix())
}

func TestLease_ExtendAfterTakeoverFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(clock.Now)

	require.NoError(t, s.AcquireLease(ctx, "slow", "scheduled", 10*time.Minute))
	clock.Advance(11 * time.Minute)
	require.NoError(t, s.AcquireLease(ctx, "web", "manual", 10*time.Minute))

	assert.ErrorIs(t, s.ExtendLease(ctx, "slow", 10*time.Minute), ErrLeaseLost)
	lease, err := s.CurrentLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "web", lease.Holder)
}

func TestRuns_RecordAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(clock.Now)

	old, err := s.StartRun(ctx, TriggerScheduled)
	require.NoError(t, err)
	old.Results = []MappingResult{{MappingID: 1, CollectionName: "A", Status: StatusOK, Listed: 2, Matched: 2, Added: 2}}
	old.Summarize()
	require.NoError(t, s.FinishRun(ctx, old))

	clock.Advance(48 * time.Hour)
	recent, err := s.StartRun(ctx, TriggerManual)
	require.NoError(t, err)
	recent.Results = []MappingResult{
		{MappingID: 1, CollectionName: "A", Status: StatusOK},
		{MappingID: 2, CollectionName: "B", Status: StatusRateLimited, Error: "rate limited"},
	}
	recent.Summarize()
	assert.Equal(t, RunPartial, recent.Status)
	require.NoError(t, s.FinishRun(ctx, recent))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, recent.ID, runs[0].ID)
	assert.Len(t, runs[0].Results, 2)
	assert.Equal(t, StatusRateLimited, runs[0].Results[1].Status)
	assert.Equal(t, RunCompleted, runs[1].Status)

	n, err := s.DeleteRunsBefore(ctx, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, recent.ID, last.ID)
}

func TestRun_Summarize(t *testing.T) {
	tests := []struct {
		name    string
		run     Run
		expects RunStatus
	}{
		{"no mappings", Run{}, RunCompleted},
		{"all ok", Run{Results: []MappingResult{{Status: StatusOK}}}, RunCompleted},
		{"all failed", Run{Results: []MappingResult{{Status: StatusAuthError}, {Status: StatusSkipped}}}, RunFailed},
		{"run error", Run{Error: "boom"}, RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run.Summarize()
			assert.Equal(t, tt.expects, tt.run.Status)
		})
	}
}

func TestNextSync_NotASetting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	at, err := s.NextSync(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	want := time.Unix(1_700_003_600, 0)
	require.NoError(t, s.SetNextSync(ctx, want))
	at, err = s.NextSync(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(at))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, nextSyncKey)
}
