// Package reconcile converges Emby collections to the contents of Trakt
// lists.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/matcher"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// ErrMissingConfig is returned when required settings are empty.
var ErrMissingConfig = errors.New("missing required configuration")

// ListFetcher reads Trakt lists.
type ListFetcher interface {
	FetchList(ctx context.Context, ref trakt.ListRef, kind trakt.MediaKind) ([]trakt.Item, error)
}

// MediaServer manages Emby libraries and collections.
type MediaServer interface {
	ListLibraryItems(ctx context.Context, libraryID string, itemType emby.ItemType) ([]emby.Item, error)
	FindCollection(ctx context.Context, name string) (*emby.Collection, error)
	GetOrCreateCollection(ctx context.Context, name string, initial []string) (*emby.Collection, bool, error)
	SetCollectionMembers(ctx context.Context, col *emby.Collection, desired map[string]struct{}) (emby.MembershipChange, error)
}

// Store is the subset of the State Store a run uses.
type Store interface {
	AcquireLease(ctx context.Context, holder, trigger string, ttl time.Duration) error
	ExtendLease(ctx context.Context, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, holder string) error
	LoadSettings(ctx context.Context) (*state.Settings, error)
	ListMappings(ctx context.Context) ([]state.Mapping, error)
	IgnoredKeys(ctx context.Context) (map[string]struct{}, error)
	ReplaceMissing(ctx context.Context, mappingID int64, items []state.MissingItem) error
	StartRun(ctx context.Context, trigger state.Trigger) (*state.Run, error)
	FinishRun(ctx context.Context, run *state.Run) error
}

// Broadcaster receives progress events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// ClientFactory builds API clients from the settings resolved for a run.
type ClientFactory func(cfg *state.Settings) (ListFetcher, MediaServer)

// Service runs reconciliation cycles.
type Service struct {
	store   Store
	clients ClientFactory
	lockTTL time.Duration
	hub     Broadcaster
	logger  zerolog.Logger
}

// NewService creates a reconciler. lockTTL bounds how long a crashed run
// can hold the sync lease.
func NewService(store Store, clients ClientFactory, lockTTL time.Duration, logger zerolog.Logger) *Service {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Service{
		store:   store,
		clients: clients,
		lockTTL: lockTTL,
		logger:  logger.With().Str("component", "reconcile").Logger(),
	}
}

// SetBroadcaster sets the progress event sink.
func (s *Service) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// cycle carries per-run state shared across mappings.
type cycle struct {
	settings  *state.Settings
	fetcher   ListFetcher
	media     MediaServer
	ignored   map[string]struct{}
	libraries map[string]*matcher.Index
	traktDown error
	embyDown  error
}

// Run executes one cycle over all enabled mappings. It returns
// state.ErrSyncInProgress without side effects when another run holds the
// lease. A failing mapping never stops the remaining ones.
func (s *Service) Run(ctx context.Context, trigger state.Trigger) (*state.Run, error) {
	holder, release, err := s.acquire(ctx, trigger)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runHeld(ctx, trigger, holder)
}

// Start claims the lease and runs the cycle in the background. The lease is
// taken before Start returns, so callers learn about a concurrent run
// immediately. The returned channel is closed when the run finishes.
func (s *Service) Start(ctx context.Context, trigger state.Trigger) (<-chan struct{}, error) {
	holder, release, err := s.acquire(ctx, trigger)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer release()
		if _, err := s.runHeld(ctx, trigger, holder); err != nil {
			s.logger.Warn().Err(err).Str("trigger", string(trigger)).Msg("Background sync ended with error")
		}
	}()
	return done, nil
}

func (s *Service) acquire(ctx context.Context, trigger state.Trigger) (string, func(), error) {
	holder := uuid.New().String()
	if err := s.store.AcquireLease(ctx, holder, string(trigger), s.lockTTL); err != nil {
		return "", nil, err
	}
	// Bookkeeping must survive cancellation of the run itself.
	bg := context.WithoutCancel(ctx)
	return func() {
		if err := s.store.ReleaseLease(bg, holder); err != nil {
			s.logger.Error().Err(err).Msg("Failed to release sync lease")
		}
	}, nil
}

// renew extends the lease before the next mapping so a cycle longer than
// lockTTL stays exclusive. Only a takeover is returned; a failed write is
// logged and the run carries on under the current expiry.
func (s *Service) renew(ctx context.Context, holder string, log zerolog.Logger) error {
	err := s.store.ExtendLease(ctx, holder, s.lockTTL)
	if errors.Is(err, state.ErrLeaseLost) {
		log.Error().Msg("Sync lease was taken over, stopping run")
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to extend sync lease")
	}
	return nil
}

func (s *Service) runHeld(ctx context.Context, trigger state.Trigger, holder string) (*state.Run, error) {
	bg := context.WithoutCancel(ctx)
	run, err := s.store.StartRun(ctx, trigger)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Str("run", run.ID).Str("trigger", string(trigger)).Logger()
	runErr := s.execute(ctx, run, holder, log)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.Summarize()

	if err := s.store.FinishRun(bg, run); err != nil {
		log.Error().Err(err).Msg("Failed to record run")
	}
	s.emit(EventSyncCompleted, run)

	log.Info().
		Str("status", string(run.Status)).
		Int("mappings", len(run.Results)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Sync finished")

	return run, runErr
}

func (s *Service) execute(ctx context.Context, run *state.Run, holder string, log zerolog.Logger) error {
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if missing := settings.Missing(); len(missing) > 0 {
		log.Warn().Strs("keys", missing).Msg("Cannot sync: missing required configuration")
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	all, err := s.store.ListMappings(ctx)
	if err != nil {
		return err
	}
	var mappings []state.Mapping
	for _, m := range all {
		if m.Enabled {
			mappings = append(mappings, m)
		}
	}

	ignored, err := s.store.IgnoredKeys(ctx)
	if err != nil {
		return err
	}

	fetcher, media := s.clients(settings)
	c := &cycle{
		settings:  settings,
		fetcher:   fetcher,
		media:     media,
		ignored:   ignored,
		libraries: map[string]*matcher.Index{},
	}

	s.emit(EventSyncStarted, StartedEvent{RunID: run.ID, Trigger: run.Trigger, Mappings: len(mappings)})
	log.Info().Int("mappings", len(mappings)).Msg("Sync started")

	var leaseErr error
	for i, m := range mappings {
		if i > 0 && leaseErr == nil && ctx.Err() == nil {
			leaseErr = s.renew(ctx, holder, log)
		}

		var res state.MappingResult
		switch {
		case leaseErr != nil:
			res = skipped(m, leaseErr)
		case ctx.Err() != nil:
			res = skipped(m, ctx.Err())
		default:
			res = s.syncMapping(ctx, c, m)
		}
		run.Results = append(run.Results, res)

		ev := log.Info()
		if res.Status != state.StatusOK {
			ev = log.Warn()
		}
		ev.Int64("mapping", m.ID).
			Str("collection", m.CollectionName).
			Str("status", string(res.Status)).
			Int("matched", res.Matched).
			Int("missing", res.Missing).
			Int("added", res.Added).
			Int("removed", res.Removed).
			Str("error", res.Error).
			Msg("Mapping synced")

		s.emit(EventSyncProgress, ProgressEvent{
			RunID:  run.ID,
			Index:  i + 1,
			Total:  len(mappings),
			Result: res,
		})
	}

	if leaseErr != nil {
		return fmt.Errorf("sync stopped: %w", leaseErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync cancelled: %w", err)
	}
	return nil
}

func (s *Service) syncMapping(ctx context.Context, c *cycle, m state.Mapping) state.MappingResult {
	res := state.MappingResult{MappingID: m.ID, CollectionName: m.CollectionName}
	kind := trakt.MediaKind(m.MediaKind)

	if c.traktDown != nil {
		return skipped(m, fmt.Errorf("trakt unavailable this cycle: %w", c.traktDown))
	}
	items, err := c.fetcher.FetchList(ctx, trakt.ListRef{User: m.TraktUser, List: m.TraktList}, kind)
	if err != nil {
		if errors.Is(err, trakt.ErrNetwork) || errors.Is(err, trakt.ErrRateLimited) {
			c.traktDown = err
		}
		return failed(res, err)
	}
	res.Listed = len(items)

	library := c.settings.LibraryFor(m.MediaKind)
	if c.embyDown != nil {
		return skipped(m, fmt.Errorf("emby unavailable this cycle: %w", c.embyDown))
	}
	idx, err := c.index(ctx, library, itemTypeFor(m.MediaKind))
	if err != nil {
		return s.embyFailed(c, res, err)
	}

	desired := make(map[string]struct{})
	var missing []state.MissingItem
	seenMissing := make(map[string]bool)
	for _, it := range items {
		key := it.Key()
		if _, ok := c.ignored[key]; ok {
			res.Ignored++
			continue
		}
		if match, tier := idx.Match(it); match != nil {
			if _, ignoredBoth := c.ignored[embyKey(m.MediaKind, match.ID)]; ignoredBoth {
				res.Ignored++
				continue
			}
			res.Matched++
			desired[match.ID] = struct{}{}
			s.logger.Debug().Str("title", it.Title).Str("emby_id", match.ID).Str("tier", tier.String()).Msg("Matched")
			continue
		}
		if seenMissing[key] {
			continue
		}
		seenMissing[key] = true
		missing = append(missing, missingItem(it, key))
	}
	res.Missing = len(missing)

	change, err := s.converge(ctx, c, m.CollectionName, desired)
	res.Added, res.Removed = len(change.Added), len(change.Removed)
	if err != nil {
		return s.embyFailed(c, res, err)
	}

	if err := s.store.ReplaceMissing(ctx, m.ID, missing); err != nil {
		return failed(res, err)
	}

	res.Status = state.StatusOK
	return res
}

// converge makes the collection's membership equal desired. An empty
// desired set never creates a collection.
func (s *Service) converge(ctx context.Context, c *cycle, name string, desired map[string]struct{}) (emby.MembershipChange, error) {
	if len(desired) == 0 {
		col, err := c.media.FindCollection(ctx, name)
		if err != nil || col == nil {
			return emby.MembershipChange{}, err
		}
		return c.media.SetCollectionMembers(ctx, col, desired)
	}

	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	col, created, err := c.media.GetOrCreateCollection(ctx, name, ids)
	if err != nil {
		return emby.MembershipChange{}, err
	}

	var change emby.MembershipChange
	if created {
		for id := range col.Members {
			change.Added = append(change.Added, id)
		}
		sort.Strings(change.Added)
	}

	more, err := c.media.SetCollectionMembers(ctx, col, desired)
	change.Added = append(change.Added, more.Added...)
	change.Removed = append(change.Removed, more.Removed...)
	return change, err
}

func (c *cycle) index(ctx context.Context, library string, itemType emby.ItemType) (*matcher.Index, error) {
	if library == "" {
		return nil, fmt.Errorf("%w: no Emby library configured for %s", emby.ErrNotFound, itemType)
	}
	// Movies and shows may share one mixed library.
	key := library + "\x00" + string(itemType)
	if idx, ok := c.libraries[key]; ok {
		return idx, nil
	}
	items, err := c.media.ListLibraryItems(ctx, library, itemType)
	if err != nil {
		return nil, err
	}
	idx := matcher.NewIndex(items)
	c.libraries[key] = idx
	return idx, nil
}

func (s *Service) embyFailed(c *cycle, res state.MappingResult, err error) state.MappingResult {
	if errors.Is(err, emby.ErrNetwork) {
		c.embyDown = err
	}
	return failed(res, err)
}

func (s *Service) emit(msgType string, payload interface{}) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Broadcast(msgType, payload); err != nil {
		s.logger.Debug().Err(err).Str("type", msgType).Msg("Failed to broadcast event")
	}
}

// Classify maps a client error to a mapping status.
func Classify(err error) state.MappingStatus {
	switch {
	case err == nil:
		return state.StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return state.StatusSkipped
	case errors.Is(err, trakt.ErrAuth), errors.Is(err, emby.ErrAuth):
		return state.StatusAuthError
	case errors.Is(err, trakt.ErrRateLimited):
		return state.StatusRateLimited
	case errors.Is(err, trakt.ErrNetwork), errors.Is(err, emby.ErrNetwork):
		return state.StatusNetworkError
	case errors.Is(err, trakt.ErrNotFound), errors.Is(err, emby.ErrNotFound):
		return state.StatusNotFound
	default:
		return state.StatusError
	}
}

func failed(res state.MappingResult, err error) state.MappingResult {
	res.Status = Classify(err)
	res.Error = err.Error()
	return res
}

func skipped(m state.Mapping, reason error) state.MappingResult {
	return state.MappingResult{
		MappingID:      m.ID,
		CollectionName: m.CollectionName,
		Status:         state.StatusSkipped,
		Error:          reason.Error(),
	}
}

func itemTypeFor(kind state.MediaKind) emby.ItemType {
	if kind == state.MediaShow {
		return emby.TypeSeries
	}
	return emby.TypeMovie
}

// embyKey identifies a library item in the ignored set, for items
// ignored from the Emby side.
func embyKey(kind state.MediaKind, id string) string {
	return fmt.Sprintf("%s:emby:%s", kind, id)
}

func missingItem(it trakt.Item, key string) state.MissingItem {
	return state.MissingItem{
		Key:       key,
		MediaKind: state.MediaKind(it.Kind),
		Title:     it.Title,
		Year:      it.Year,
		TraktID:   it.IDs.Trakt,
		IMDbID:    it.IDs.IMDB,
		TMDbID:    it.IDs.TMDB,
		TVDbID:    it.IDs.TVDB,
	}
}
