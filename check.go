package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/reporoute/internal/dispatch"
)

// errCheckFailed is returned after the results have been printed when at
// least one session could not be built.
var errCheckFailed = errors.New("one or more sessions failed")

func newCheckCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Build a session for every authenticated repository",
		Long: `Builds (and for SharePoint Online, caches) a session for every configured
repository that has credentials, and reports the outcome. Exits non-zero if
any session fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, concurrency)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", dispatch.DefaultPrewarmConcurrency,
		"maximum parallel session builds")

	return cmd
}

type checkResult struct {
	Path    string    `json:"path"`
	Kind    string    `json:"kind"`
	OK      bool      `json:"ok"`
	Session string    `json:"session,omitempty"`
	Created time.Time `json:"created,omitzero"`
	Error   string    `json:"error,omitempty"`
}

func toCheckResults(in []dispatch.PrewarmResult) ([]checkResult, int) {
	out := make([]checkResult, 0, len(in))
	failed := 0

	for _, r := range in {
		cr := checkResult{Path: r.Repository.Path}
		if r.Repository.Creds != nil {
			cr.Kind = string(r.Repository.Creds.Kind)
		}

		if r.Err != nil {
			cr.Error = r.Err.Error()
			failed++
		} else {
			cr.OK = true
			if r.Session != nil {
				cr.Session = r.Session.ID
				cr.Created = r.Session.CreatedAt
			}
		}

		out = append(out, cr)
	}

	return out, failed
}

func runCheck(cmd *cobra.Command, concurrency int) error {
	cc := cliContextFrom(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	prewarmed, err := a.dispatcher.Prewarm(cmd.Context(), concurrency)
	if err != nil {
		return fmt.Errorf("check interrupted: %w", err)
	}

	results, failed := toCheckResults(prewarmed)

	if cc.Flags.JSON {
		if err := printCheckJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else if len(results) == 0 {
		cc.Statusf("No authenticated repositories to check\n")
	} else {
		printCheckText(cmd.OutOrStdout(), results)
		cc.Statusf("%d checked, %d failed\n", len(results), failed)
	}

	if failed > 0 {
		return errCheckFailed
	}

	return nil
}

func printCheckJSON(w io.Writer, results []checkResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printCheckText(w io.Writer, results []checkResult) {
	rows := make([][]string, 0, len(results))

	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "failed: " + r.Error
		}

		rows = append(rows, []string{r.Path, r.Kind, status, dashIfEmpty(r.Session), modifiedColumn(r.Created)})
	}

	printTable(w, []string{"PATH", "KIND", "STATUS", "SESSION", "CREATED"}, rows)
}
