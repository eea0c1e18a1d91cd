package trakt

import (
	"fmt"
	"strings"
)

// MediaKind selects movies or shows from a list.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaShow  MediaKind = "show"
)

func (k MediaKind) plural() string {
	if k == MediaShow {
		return "shows"
	}
	return "movies"
}

// IDs holds external identifiers for a media item.
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Media is the movie or show object embedded in list entries.
type Media struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// ListItem is an entry as returned by the list and watchlist endpoints.
type ListItem struct {
	Rank  int    `json:"rank"`
	Type  string `json:"type"`
	Movie *Media `json:"movie,omitempty"`
	Show  *Media `json:"show,omitempty"`
}

// Item is a list entry flattened to the fields used for matching.
type Item struct {
	Rank  int       `json:"rank"`
	Title string    `json:"title"`
	Year  int       `json:"year"`
	IDs   IDs       `json:"ids"`
	Kind  MediaKind `json:"kind"`
}

// Key is the stable identity used by the ignored set and missing list.
func (it Item) Key() string {
	switch {
	case it.IDs.Trakt != 0:
		return fmt.Sprintf("%s:trakt:%d", it.Kind, it.IDs.Trakt)
	case it.IDs.IMDB != "":
		return fmt.Sprintf("%s:imdb:%s", it.Kind, strings.ToLower(it.IDs.IMDB))
	case it.IDs.TMDB != 0:
		return fmt.Sprintf("%s:tmdb:%d", it.Kind, it.IDs.TMDB)
	case it.IDs.TVDB != 0:
		return fmt.Sprintf("%s:tvdb:%d", it.Kind, it.IDs.TVDB)
	}
	return fmt.Sprintf("%s:title:%s:%d", it.Kind, strings.ToLower(strings.TrimSpace(it.Title)), it.Year)
}

func (li ListItem) toItem(kind MediaKind) (Item, bool) {
	var m *Media
	switch kind {
	case MediaMovie:
		m = li.Movie
	case MediaShow:
		m = li.Show
	}
	if m == nil {
		return Item{}, false
	}
	return Item{Rank: li.Rank, Title: m.Title, Year: m.Year, IDs: m.IDs, Kind: kind}, true
}

// WatchlistRef addresses the user's watchlist instead of a named list.
const WatchlistRef = "watchlist"

// ListRef addresses a Trakt list. User may be empty for public lists
// addressed by numeric ID.
type ListRef struct {
	User string
	List string
}

func (r ListRef) String() string {
	if r.User == "" {
		return r.List
	}
	return r.User + "/" + r.List
}

// path returns the items endpoint for kind.
func (r ListRef) path(kind MediaKind) string {
	switch {
	case r.List == WatchlistRef:
		user := r.User
		if user == "" {
			user = "me"
		}
		return fmt.Sprintf("/users/%s/watchlist/%s", user, kind.plural())
	case r.User != "":
		return fmt.Sprintf("/users/%s/lists/%s/items/%s", r.User, r.List, kind.plural())
	default:
		return fmt.Sprintf("/lists/%s/items/%s", r.List, kind.plural())
	}
}

// DeviceCode is the response from /oauth/device/code.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// tokenResponse is returned by /oauth/device/token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// UserProfile is the subset of /users/me used for connectivity checks.
type UserProfile struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	VIP      bool   `json:"vip"`
	Private  bool   `json:"private"`
}
