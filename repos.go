package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/reporoute/internal/repository"
)

func newReposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List registered repositories",
		Long:  "Lists the repositories from the config file. Secrets are never printed.",
		Args:  cobra.NoArgs,
		RunE:  runRepos,
	}
}

// repoJSON is the JSON form of a repository. It has no secret field.
type repoJSON struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Auth     string `json:"auth,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Username string `json:"username,omitempty"`
}

func toRepoJSON(r repository.Repository) repoJSON {
	out := repoJSON{Path: r.Path, Type: r.Type.DisplayName()}
	if r.Creds != nil {
		out.Auth = string(r.Creds.Kind)
		out.Domain = r.Creds.Domain
		out.Username = r.Creds.Username
	}

	return out
}

func runRepos(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	repos := a.registry.List()

	if cc.Flags.JSON {
		return printReposJSON(cmd.OutOrStdout(), repos)
	}

	if len(repos) == 0 {
		cc.Statusf("No repositories configured in %s\n", cc.CfgPath)
		return nil
	}

	printReposText(cmd.OutOrStdout(), repos)

	return nil
}

func printReposJSON(w io.Writer, repos []repository.Repository) error {
	out := make([]repoJSON, 0, len(repos))
	for _, r := range repos {
		out = append(out, toRepoJSON(r))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printReposText(w io.Writer, repos []repository.Repository) {
	rows := make([][]string, 0, len(repos))

	for _, r := range repos {
		j := toRepoJSON(r)

		user := j.Username
		if j.Domain != "" {
			user = j.Domain + `\` + user
		}

		auth := j.Auth
		if auth == "" {
			auth = "-"
		}

		if user == "" {
			user = "-"
		}

		rows = append(rows, []string{j.Path, j.Type, auth, user})
	}

	printTable(w, []string{"PATH", "TYPE", "AUTH", "USER"}, rows)
}
