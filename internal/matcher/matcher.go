// Package matcher maps Trakt list entries to Emby library items.
//
// Matching has two tiers and no scoring. An exact external ID wins first;
// otherwise the title must be equal under Unicode case folding with
// whitespace collapsed, and the year must be equal. Within a tier the first
// candidate in library order wins.
package matcher

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// Tier identifies how an item matched.
type Tier int

const (
	NoMatch Tier = iota
	ByID
	ByTitleYear
)

func (t Tier) String() string {
	switch t {
	case ByID:
		return "id"
	case ByTitleYear:
		return "title_year"
	default:
		return "none"
	}
}

type provider string

const (
	providerIMDB provider = "Imdb"
	providerTMDB provider = "Tmdb"
	providerTVDB provider = "Tvdb"
)

// idOrder lists the providers tried for each kind, most reliable first.
var idOrder = map[trakt.MediaKind][]provider{
	trakt.MediaMovie: {providerIMDB, providerTMDB},
	trakt.MediaShow:  {providerTVDB, providerTMDB, providerIMDB},
}

type titleYear struct {
	title string
	year  int
}

// Index answers matches against one library. Build it once per library per
// run.
type Index struct {
	items   []emby.Item
	byID    map[provider]map[string]int
	byTitle map[titleYear]int
	fold    cases.Caser
}

// NewIndex indexes candidates, keeping the first item for each key.
func NewIndex(candidates []emby.Item) *Index {
	idx := &Index{
		items: candidates,
		byID: map[provider]map[string]int{
			providerIMDB: {},
			providerTMDB: {},
			providerTVDB: {},
		},
		byTitle: make(map[titleYear]int, len(candidates)),
		fold:    cases.Fold(),
	}

	for i, it := range candidates {
		for p, m := range idx.byID {
			v := normalizeID(it.ProviderID(string(p)))
			if v == "" {
				continue
			}
			if _, seen := m[v]; !seen {
				m[v] = i
			}
		}
		key := titleYear{title: idx.normalize(it.Name), year: it.Year}
		if key.title == "" {
			continue
		}
		if _, seen := idx.byTitle[key]; !seen {
			idx.byTitle[key] = i
		}
	}
	return idx
}

// Len returns the number of indexed candidates.
func (idx *Index) Len() int {
	return len(idx.items)
}

// Match returns the library item for item, if any.
func (idx *Index) Match(item trakt.Item) (*emby.Item, Tier) {
	for _, p := range idOrder[item.Kind] {
		v := traktID(item.IDs, p)
		if v == "" {
			continue
		}
		if i, ok := idx.byID[p][v]; ok {
			return &idx.items[i], ByID
		}
	}

	key := titleYear{title: idx.normalize(item.Title), year: item.Year}
	if key.title != "" {
		if i, ok := idx.byTitle[key]; ok {
			return &idx.items[i], ByTitleYear
		}
	}
	return nil, NoMatch
}

// Match is a one-off lookup of item among candidates.
func Match(item trakt.Item, candidates []emby.Item) (*emby.Item, bool) {
	m, tier := NewIndex(candidates).Match(item)
	return m, tier != NoMatch
}

// NormalizeTitle folds case and collapses whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(cases.Fold().String(title)), " ")
}

func (idx *Index) normalize(title string) string {
	return strings.Join(strings.Fields(idx.fold.String(title)), " ")
}

func traktID(ids trakt.IDs, p provider) string {
	switch p {
	case providerIMDB:
		return normalizeID(ids.IMDB)
	case providerTMDB:
		if ids.TMDB != 0 {
			return strconv.FormatInt(ids.TMDB, 10)
		}
	case providerTVDB:
		if ids.TVDB != 0 {
			return strconv.FormatInt(ids.TVDB, 10)
		}
	}
	return ""
}

func normalizeID(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
