package matcher

import (
	"testing"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

func movie(id, name string, year int, providers map[string]string) emby.Item {
	return emby.Item{ID: id, Name: name, Year: year, Type: emby.TypeMovie, ProviderIDs: providers}
}

func TestMatch_IDBeatsTitleMismatch(t *testing.T) {
	candidates := []emby.Item{
		movie("e1", "Completely Different Name", 1999, map[string]string{"Imdb": "tt0133093"}),
		movie("e2", "The Matrix", 1999, nil),
	}
	item := trakt.Item{Kind: trakt.MediaMovie, Title: "The Matrix", Year: 1999, IDs: trakt.IDs{IMDB: "tt0133093"}}

	got, tier := NewIndex(candidates).Match(item)
	if got == nil || got.ID != "e1" {
		t.Fatalf("Match() = %+v, want e1", got)
	}
	if tier != ByID {
		t.Errorf("tier = %s, want id", tier)
	}
}

func TestMatch_YearDisambiguatesTitle(t *testing.T) {
	candidates := []emby.Item{
		movie("old", "Dune", 1984, nil),
		movie("new", "Dune", 2021, nil),
	}
	item := trakt.Item{Kind: trakt.MediaMovie, Title: "Dune", Year: 2021}

	got, ok := Match(item, candidates)
	if !ok || got.ID != "new" {
		t.Fatalf("Match() = %+v, want new", got)
	}

	item.Year = 2000
	if got, ok := Match(item, candidates); ok {
		t.Errorf("Match() = %+v, want no match for unknown year", got)
	}
}

func TestMatch_TitleNormalization(t *testing.T) {
	candidates := []emby.Item{movie("e1", "  AMÉLIE   Poulain ", 2001, nil)}
	item := trakt.Item{Kind: trakt.MediaMovie, Title: "amélie poulain", Year: 2001}

	if _, ok := Match(item, candidates); !ok {
		t.Error("expected case-folded, whitespace-normalized title to match")
	}

	// Accents are significant; there is no fuzzy tier.
	item.Title = "Amelie Poulain"
	if _, ok := Match(item, candidates); ok {
		t.Error("expected accent difference not to match")
	}
}

func TestMatch_ProviderOrder(t *testing.T) {
	tests := []struct {
		name  string
		kind  trakt.MediaKind
		ids   trakt.IDs
		items []emby.Item
		want  string
	}{
		{
			name: "movie prefers imdb over tmdb",
			kind: trakt.MediaMovie,
			ids:  trakt.IDs{IMDB: "tt1", TMDB: 10},
			items: []emby.Item{
				movie("tmdb-hit", "A", 2000, map[string]string{"Tmdb": "10"}),
				movie("imdb-hit", "B", 2000, map[string]string{"IMDB": "TT1"}),
			},
			want: "imdb-hit",
		},
		{
			name: "show prefers tvdb",
			kind: trakt.MediaShow,
			ids:  trakt.IDs{IMDB: "tt2", TVDB: 77},
			items: []emby.Item{
				{ID: "imdb-hit", Name: "A", ProviderIDs: map[string]string{"Imdb": "tt2"}},
				{ID: "tvdb-hit", Name: "B", ProviderIDs: map[string]string{"Tvdb": "77"}},
			},
			want: "tvdb-hit",
		},
		{
			name: "first candidate wins within a tier",
			kind: trakt.MediaMovie,
			ids:  trakt.IDs{TMDB: 5},
			items: []emby.Item{
				movie("first", "A", 2000, map[string]string{"Tmdb": "5"}),
				movie("second", "A", 2000, map[string]string{"Tmdb": "5"}),
			},
			want: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(trakt.Item{Kind: tt.kind, Title: "Unrelated", Year: 1, IDs: tt.ids}, tt.items)
			if !ok || got.ID != tt.want {
				t.Errorf("Match() = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	if _, ok := Match(trakt.Item{Kind: trakt.MediaMovie, Title: "X", Year: 2000}, nil); ok {
		t.Error("expected no match")
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := NormalizeTitle("  The\tGREAT   Escape "); got != "the great escape" {
		t.Errorf("NormalizeTitle() = %q", got)
	}
}
