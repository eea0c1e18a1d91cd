package reconcile

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/config"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// NewTraktClient builds a Trakt client from resolved settings and the
// bootstrap transport options.
func NewTraktClient(cfg *state.Settings, boot config.TraktConfig, tokens trakt.TokenStore, logger zerolog.Logger) *trakt.Client {
	return trakt.NewClient(trakt.Config{
		ClientID:          cfg.TraktClientID,
		ClientSecret:      cfg.TraktClientSecret,
		BaseURL:           boot.BaseURL,
		Timeout:           time.Duration(boot.Timeout) * time.Second,
		RequestsPerSecond: boot.RequestsPerSecond,
		Burst:             boot.Burst,
		PageSize:          boot.PageSize,
	}, tokens, logger)
}

// NewEmbyClient builds an Emby client from resolved settings.
func NewEmbyClient(cfg *state.Settings, boot config.EmbyConfig, logger zerolog.Logger) *emby.Client {
	return emby.NewClient(emby.Config{
		Server:   cfg.EmbyServer,
		APIKey:   cfg.EmbyAPIKey,
		UserID:   cfg.EmbyAdminUserID,
		Timeout:  time.Duration(boot.Timeout) * time.Second,
		PageSize: boot.PageSize,
	}, logger)
}

// Clients returns a ClientFactory that builds fresh clients for every run
// so settings edits take effect on the next cycle.
func Clients(boot *config.Config, tokens trakt.TokenStore, logger zerolog.Logger) ClientFactory {
	return func(cfg *state.Settings) (ListFetcher, MediaServer) {
		return NewTraktClient(cfg, boot.Trakt, tokens, logger), NewEmbyClient(cfg, boot.Emby, logger)
	}
}

// Probes returns a ProbeFactory backed by the real clients.
func Probes(boot *config.Config, tokens trakt.TokenStore, logger zerolog.Logger) ProbeFactory {
	return func(cfg *state.Settings) (TraktProbe, EmbyProbe) {
		return NewTraktClient(cfg, boot.Trakt, tokens, logger), NewEmbyClient(cfg, boot.Emby, logger)
	}
}
