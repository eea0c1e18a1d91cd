package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/config"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// runSync runs one reconciliation and prints its per-mapping results.
func (a *app) runSync(ctx context.Context, cmd *cobra.Command) error {
	if _, err := a.requireSettings(ctx); err != nil {
		return err
	}
	run, err := a.reconciler().Run(ctx, state.TriggerCLI)
	if errors.Is(err, state.ErrSyncInProgress) {
		return errors.New("a sync is already in progress")
	}
	if run != nil {
		fmt.Fprintln(cmd.OutOrStdout(), renderRun(run))
	}
	if err != nil {
		return err
	}
	if run.Status == state.RunFailed {
		return fmt.Errorf("sync failed: %s", run.Error)
	}
	return nil
}

// runAuth walks the user through Trakt device authorization on the console.
func (a *app) runAuth(ctx context.Context, cmd *cobra.Command) error {
	settings, err := a.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	client := reconcile.NewTraktClient(settings, a.cfg.Trakt, a.store, a.log.WithComponent("trakt"))
	code, err := client.StartDeviceAuth(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open %s and enter the code: %s\n", code.VerificationURL, code.UserCode)
	fmt.Fprintf(out, "Waiting for approval (expires in %s)...\n", time.Duration(code.ExpiresIn)*time.Second)

	tok, err := client.WaitForDeviceToken(ctx, code)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	fmt.Fprintf(out, "Authorized. Token expires %s.\n", tok.Expiry.Local().Format(time.RFC1123))
	return nil
}

// statusReport is the machine-readable form of --mode status.
type statusReport struct {
	Version    string          `json:"version" yaml:"version"`
	Configured bool            `json:"configured" yaml:"configured"`
	Missing    []string        `json:"missingSettings" yaml:"missing_settings"`
	Authorized bool            `json:"traktAuthorized" yaml:"trakt_authorized"`
	Syncing    *state.Lease    `json:"syncing,omitempty" yaml:"syncing,omitempty"`
	NextSync   *time.Time      `json:"nextSync,omitempty" yaml:"next_sync,omitempty"`
	Mappings   []state.Mapping `json:"mappings" yaml:"mappings"`
	LastRun    *state.Run      `json:"lastRun,omitempty" yaml:"last_run,omitempty"`
	Missed     int             `json:"missingItems" yaml:"missing_items"`
	Ignored    int             `json:"ignoredItems" yaml:"ignored_items"`
}

func (a *app) collectStatus(ctx context.Context) (*statusReport, error) {
	settings, err := a.store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	r := &statusReport{Version: config.Version, Missing: settings.Missing()}
	r.Configured = len(r.Missing) == 0

	tok, err := a.store.LoadToken(ctx)
	if err != nil {
		return nil, err
	}
	r.Authorized = tok != nil && (tok.RefreshToken != "" || tok.Valid())

	if r.Syncing, err = a.store.CurrentLease(ctx); err != nil {
		return nil, err
	}
	next, err := a.store.NextSync(ctx)
	if err != nil {
		return nil, err
	}
	if !next.IsZero() {
		r.NextSync = &next
	}
	if r.Mappings, err = a.store.ListMappings(ctx); err != nil {
		return nil, err
	}
	if r.LastRun, err = a.store.LastRun(ctx); err != nil {
		return nil, err
	}
	missing, err := a.store.ListMissing(ctx, 0)
	if err != nil {
		return nil, err
	}
	r.Missed = len(missing)
	ignored, err := a.store.ListIgnored(ctx)
	if err != nil {
		return nil, err
	}
	r.Ignored = len(ignored)
	return r, nil
}

func (a *app) printStatus(ctx context.Context, cmd *cobra.Command, format string) error {
	r, err := a.collectStatus(ctx)
	if err != nil {
		return err
	}
	if format != outputTable {
		return writeStructured(cmd, format, r)
	}

	out := cmd.OutOrStdout()
	next := "not scheduled"
	if r.NextSync != nil {
		next = r.NextSync.Local().Format(time.DateTime)
	}
	syncing := "idle"
	if r.Syncing != nil {
		syncing = fmt.Sprintf("%s since %s", r.Syncing.Trigger, r.Syncing.AcquiredAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Setting", "Value"},
		[][]string{
			{"Configured", yesNo(r.Configured)},
			{"Trakt authorized", yesNo(r.Authorized)},
			{"Sync", syncing},
			{"Next sync", next},
			{"Missing items", strconv.Itoa(r.Missed)},
			{"Ignored items", strconv.Itoa(r.Ignored)},
		},
		nil,
	))
	if len(r.Missing) > 0 {
		fmt.Fprintf(out, "Missing settings: %v\n", r.Missing)
	}

	rows := make([][]string, 0, len(r.Mappings))
	for _, m := range r.Mappings {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10), m.TraktList, m.TraktUser, m.CollectionName, string(m.MediaKind), yesNo(m.Enabled),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "List", "User", "Collection", "Kind", "Enabled"}, rows,
		[]columnAlignment{alignRight}))

	if r.LastRun != nil {
		fmt.Fprintln(out, renderRun(r.LastRun))
	}
	return nil
}

func (a *app) printCheck(ctx context.Context, cmd *cobra.Command, format string) error {
	report, err := a.checker().Check(ctx)
	if err != nil {
		return err
	}
	if format != outputTable {
		if err := writeStructured(cmd, format, report); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(report.Checks))
		for _, c := range report.Checks {
			rows = append(rows, []string{c.Name, string(c.Status), c.Detail})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
	}
	if !report.OK {
		return errors.New("configuration check failed")
	}
	return nil
}

func renderRun(run *state.Run) string {
	rows := make([][]string, 0, len(run.Results))
	for _, r := range run.Results {
		rows = append(rows, []string{
			r.CollectionName,
			string(r.Status),
			strconv.Itoa(r.Listed),
			strconv.Itoa(r.Matched),
			strconv.Itoa(r.Missing),
			strconv.Itoa(r.Added),
			strconv.Itoa(r.Removed),
			r.Error,
		})
	}
	title := fmt.Sprintf("Run %s (%s, %s) started %s\n", run.ID, run.Trigger, run.Status,
		run.StartedAt.Local().Format(time.DateTime))
	return title + renderTable(
		[]string{"Collection", "Status", "Listed", "Matched", "Missing", "Added", "Removed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
