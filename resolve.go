package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/provider"
	"github.com/tonimelisma/reporoute/internal/repository"
)

// errStatUnsupported is reported for handle types without a metadata call.
var errStatUnsupported = errors.New("stat not supported for this repository type")

type resolveFlags struct {
	typ       string
	auth      string
	domain    string
	username  string
	secret    string
	secretEnv string
	stat      bool
}

func newResolveCmd() *cobra.Command {
	var f resolveFlags

	cmd := &cobra.Command{
		Use:   "resolve <path>...",
		Short: "Resolve paths to repository file handles",
		Long: `Resolves each path against the registered repositories and prints the
repository, session and transport URI it maps to.

With --type the paths are registered as one-shot repositories first, using
the credentials given by --auth, --domain, --username and --secret or
--secret-env. With --stat the remote metadata is fetched for each handle.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args, f)
		},
	}

	cmd.Flags().StringVar(&f.typ, "type", "", "register each path as a repository of this type")
	cmd.Flags().StringVar(&f.auth, "auth", "", "authentication kind for --type")
	cmd.Flags().StringVar(&f.domain, "domain", "", "credential domain for --type")
	cmd.Flags().StringVar(&f.username, "username", "", "credential username for --type")
	cmd.Flags().StringVar(&f.secret, "secret", "", "credential secret for --type")
	cmd.Flags().StringVar(&f.secretEnv, "secret-env", "", "environment variable holding the secret")
	cmd.Flags().BoolVar(&f.stat, "stat", false, "fetch remote metadata for each resolved handle")
	cmd.MarkFlagsMutuallyExclusive("secret", "secret-env")

	return cmd
}

// oneShot converts the one-shot flags. A zero type means the paths resolve
// against the configured repositories only.
func (f resolveFlags) oneShot(lookup func(string) (string, bool)) (repository.Type, *repository.Credentials, error) {
	if f.typ == "" {
		if f.auth != "" || f.username != "" || f.secret != "" || f.secretEnv != "" {
			return "", nil, errors.New("credential flags require --type")
		}

		return "", nil, nil
	}

	typ, err := repository.ParseType(f.typ)
	if err != nil {
		return "", nil, err
	}

	if f.auth == "" {
		return typ, nil, nil
	}

	kind, err := repository.ParseAuthKind(f.auth)
	if err != nil {
		return "", nil, err
	}

	secret := f.secret
	if f.secretEnv != "" {
		v, ok := lookup(f.secretEnv)
		if !ok {
			return "", nil, fmt.Errorf("environment variable %s is not set", f.secretEnv)
		}

		secret = v
	}

	return typ, &repository.Credentials{
		Domain:   f.domain,
		Username: f.username,
		Secret:   secret,
		Kind:     kind,
	}, nil
}

// resolveResult is one row of resolve output.
type resolveResult struct {
	Path       string      `json:"path"`
	Repository string      `json:"repository,omitempty"`
	Type       string      `json:"type,omitempty"`
	Session    string      `json:"session,omitempty"`
	URI        string      `json:"uri,omitempty"`
	Stat       *statResult `json:"stat,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// statResult is the remote metadata fetched by --stat.
type statResult struct {
	Exists       bool      `json:"exists"`
	Directory    bool      `json:"directory,omitempty"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

func runResolve(cmd *cobra.Command, paths []string, f resolveFlags) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	typ, creds, err := f.oneShot(os.LookupEnv)
	if err != nil {
		return err
	}

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	results := make([]resolveResult, 0, len(paths))
	failed := 0

	for _, p := range paths {
		r := resolveOne(ctx, a.dispatcher, p, typ, creds, f.stat)
		if r.Error != "" {
			failed++
		}

		results = append(results, r)
	}

	if cc.Flags.JSON {
		if err := printResolveJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		printResolveText(cmd.OutOrStdout(), results, f.stat)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d paths failed to resolve", failed, len(paths))
	}

	return nil
}

func resolveOne(
	ctx context.Context, d *dispatch.Dispatcher, path string,
	typ repository.Type, creds *repository.Credentials, stat bool,
) resolveResult {
	out := resolveResult{Path: path}

	if typ != "" {
		if _, err := d.ResolveWith(ctx, path, typ, creds); err != nil {
			out.Error = err.Error()
			return out
		}
	}

	res, err := d.ResolveDetail(ctx, path)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Repository = res.Repository.Path
	out.Type = res.Repository.Type.DisplayName()
	out.URI = res.Handle.URI()

	if res.Session != nil {
		out.Session = res.Session.ID
	}

	if !stat {
		return out
	}

	var pr statResult

	err = d.Do(ctx, path, func(ctx context.Context, h dispatch.FileHandle) error {
		var perr error
		pr, perr = statHandle(ctx, h)

		return perr
	})

	switch {
	case err == nil:
		out.Stat = &pr
	case errors.Is(err, provider.ErrNotFound):
		out.Stat = &statResult{}
	default:
		out.Error = err.Error()
	}

	return out
}

// statHandle fetches metadata through whichever call the handle's
// transport offers.
func statHandle(ctx context.Context, h dispatch.FileHandle) (statResult, error) {
	switch f := h.(type) {
	case provider.LocalFile:
		fi, err := f.Stat(ctx)
		if err != nil {
			return statResult{}, err
		}

		return statResult{Exists: true, Directory: fi.IsDir(), Size: fi.Size(), LastModified: fi.ModTime()}, nil

	case provider.WebDAVFile:
		r, err := f.Stat(ctx)
		if err != nil {
			return statResult{}, err
		}

		return statResult{
			Exists: true, Directory: r.IsCollection, Size: r.ContentLength, LastModified: r.LastModified,
		}, nil

	case provider.BlobFile:
		ok, props, err := f.Exists(ctx)
		if err != nil || !ok {
			return statResult{}, err
		}

		return statResult{
			Exists: true, Directory: f.Blob == "", Size: props.ContentLength, LastModified: props.LastModified,
		}, nil
	}

	return statResult{}, errStatUnsupported
}

func printResolveJSON(w io.Writer, results []resolveResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printResolveText(w io.Writer, results []resolveResult, stat bool) {
	headers := []string{"PATH", "REPOSITORY", "TYPE", "SESSION", "URI"}
	if stat {
		headers = append(headers, "SIZE", "MODIFIED")
	}

	rows := make([][]string, 0, len(results))

	for _, r := range results {
		if r.Error != "" {
			row := []string{r.Path, "-", "-", "-", "error: " + r.Error}
			if stat {
				row = append(row, "-", "-")
			}

			rows = append(rows, row)

			continue
		}

		row := []string{r.Path, r.Repository, r.Type, dashIfEmpty(r.Session), r.URI}
		if stat {
			row = append(row, statColumns(r.Stat)...)
		}

		rows = append(rows, row)
	}

	printTable(w, headers, rows)
}

func statColumns(p *statResult) []string {
	switch {
	case p == nil:
		return []string{"-", "-"}
	case !p.Exists:
		return []string{"missing", "-"}
	case p.Directory:
		return []string{"dir", modifiedColumn(p.LastModified)}
	default:
		return []string{formatSize(p.Size), modifiedColumn(p.LastModified)}
	}
}
