package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// CheckStatus is the outcome of a single configuration check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// CheckResult is one line of a CheckReport.
type CheckResult struct {
	Name   string      `json:"name" yaml:"name"`
	Status CheckStatus `json:"status" yaml:"status"`
	Detail string      `json:"detail" yaml:"detail"`
}

// CheckReport summarizes whether a sync can run.
type CheckReport struct {
	OK        bool          `json:"ok" yaml:"ok"`
	CheckedAt time.Time     `json:"checkedAt" yaml:"checkedAt"`
	Checks    []CheckResult `json:"checks" yaml:"checks"`
}

// TraktProbe is the part of the Trakt client used by checks.
type TraktProbe interface {
	IsConfigured() bool
	GetProfile(ctx context.Context) (*trakt.UserProfile, error)
}

// EmbyProbe is the part of the Emby client used by checks.
type EmbyProbe interface {
	Ping(ctx context.Context) (*emby.SystemInfo, error)
}

// ProbeFactory builds probes from resolved settings.
type ProbeFactory func(cfg *state.Settings) (TraktProbe, EmbyProbe)

// CheckStore is the state needed for checks.
type CheckStore interface {
	LoadSettings(ctx context.Context) (*state.Settings, error)
	ListMappings(ctx context.Context) ([]state.Mapping, error)
}

// Checker verifies configuration and connectivity without syncing.
type Checker struct {
	store  CheckStore
	probes ProbeFactory
	logger zerolog.Logger
}

// NewChecker creates a Checker.
func NewChecker(store CheckStore, probes ProbeFactory, logger zerolog.Logger) *Checker {
	return &Checker{
		store:  store,
		probes: probes,
		logger: logger.With().Str("component", "check").Logger(),
	}
}

// Check runs every check. The returned error is only for failures reading
// local state; remote problems are reported in the CheckReport.
func (c *Checker) Check(ctx context.Context) (*CheckReport, error) {
	settings, err := c.store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	mappings, err := c.store.ListMappings(ctx)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{CheckedAt: time.Now().UTC()}

	if missing := settings.Missing(); len(missing) > 0 {
		report.add("configuration", CheckFail, "missing: "+strings.Join(missing, ", "))
	} else {
		report.add("configuration", CheckPass, "all required settings present")
	}

	enabled := 0
	for _, m := range mappings {
		if m.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		report.add("mappings", CheckWarn, "no enabled list mappings")
	} else {
		report.add("mappings", CheckPass, fmt.Sprintf("%d enabled of %d", enabled, len(mappings)))
	}

	traktProbe, embyProbe := c.probes(settings)
	report.Checks = append(report.Checks, c.checkEmby(ctx, settings, embyProbe), c.checkTrakt(ctx, traktProbe))

	report.OK = true
	for _, r := range report.Checks {
		if r.Status == CheckFail {
			report.OK = false
		}
	}

	c.logger.Debug().Bool("ok", report.OK).Int("checks", len(report.Checks)).Msg("Configuration checked")
	return report, nil
}

func (c *Checker) checkEmby(ctx context.Context, settings *state.Settings, probe EmbyProbe) CheckResult {
	if settings.EmbyServer == "" || settings.EmbyAPIKey == "" {
		return CheckResult{Name: "emby", Status: CheckFail, Detail: "server or API key not set"}
	}
	info, err := probe.Ping(ctx)
	switch {
	case errors.Is(err, emby.ErrAuth):
		return CheckResult{Name: "emby", Status: CheckFail, Detail: "API key rejected"}
	case err != nil:
		return CheckResult{Name: "emby", Status: CheckFail, Detail: err.Error()}
	}
	return CheckResult{
		Name:   "emby",
		Status: CheckPass,
		Detail: fmt.Sprintf("connected to %s (version %s)", info.ServerName, info.Version),
	}
}

func (c *Checker) checkTrakt(ctx context.Context, probe TraktProbe) CheckResult {
	if !probe.IsConfigured() {
		return CheckResult{Name: "trakt", Status: CheckFail, Detail: "client ID not set"}
	}
	profile, err := probe.GetProfile(ctx)
	switch {
	case errors.Is(err, trakt.ErrAuth):
		return CheckResult{Name: "trakt", Status: CheckFail, Detail: "not authorized; run device authorization"}
	case err != nil:
		return CheckResult{Name: "trakt", Status: CheckFail, Detail: err.Error()}
	}
	return CheckResult{Name: "trakt", Status: CheckPass, Detail: "authorized as " + profile.Username}
}

func (r *CheckReport) add(name string, status CheckStatus, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Detail: detail})
}
