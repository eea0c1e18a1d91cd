package emby

import "strings"

// ItemType is an Emby item type used in IncludeItemTypes.
type ItemType string

const (
	TypeMovie  ItemType = "Movie"
	TypeSeries ItemType = "Series"
	TypeBoxSet ItemType = "BoxSet"
)

// Item is a library item with the fields used for matching.
type Item struct {
	ID          string            `json:"Id"`
	Name        string            `json:"Name"`
	Type        ItemType          `json:"Type"`
	Year        int               `json:"ProductionYear,omitempty"`
	ProviderIDs map[string]string `json:"ProviderIds,omitempty"`
}

// ProviderID returns the external ID for provider, ignoring key case.
// Emby spells keys inconsistently ("Imdb", "IMDB", "imdb").
func (it Item) ProviderID(provider string) string {
	if v, ok := it.ProviderIDs[provider]; ok {
		return v
	}
	for k, v := range it.ProviderIDs {
		if strings.EqualFold(k, provider) {
			return v
		}
	}
	return ""
}

// Collection is an Emby BoxSet and its current members.
type Collection struct {
	ID      string
	Name    string
	Members map[string]struct{}
}

// MembershipChange reports the items added to and removed from a collection.
type MembershipChange struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether no call was needed.
func (c MembershipChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// SystemInfo is returned by /System/Info.
type SystemInfo struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem"`
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

type createCollectionResponse struct {
	ID string `json:"Id"`
}

// Set builds a member set from IDs.
func Set(ids ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
