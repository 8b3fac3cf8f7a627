// Command timelinectl inspects and mutates timeline stores from the
// command line: add slices, reconstruct entities at a moment, reverse a
// timeline's direction, and archive a reconstruction to a blob store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"timechain/internal/blob"
	"timechain/internal/core"
	"timechain/internal/diffengine"
	"timechain/internal/infra/persistence"
	"timechain/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	if len(os.Args) < 2 {
		exitErr(fmt.Errorf("usage: timelinectl <add|patch|reverse|list|archive|archive-latest> [flags]"))
		return
	}
	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(os.Args[2:])
	case "patch":
		err = runPatch(os.Args[2:])
	case "reverse":
		err = runReverse(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "archive":
		err = runArchive(os.Args[2:])
	case "archive-latest":
		err = runArchiveLatest(os.Args[2:])
	default:
		err = fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
	exitErr(err)
}

func exitErr(err error) {
	if err == nil {
		return
	}
	//nolint:forbidigo // CLI reports failures on stderr.
	fmt.Fprintln(os.Stderr, err)
	exitFunc(1)
}

// storeFlags are the persistence flags every subcommand shares.
type storeFlags struct {
	driver      *string
	sqlitePath  *string
	postgresDSN *string
}

func bindStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		driver:      fs.String("driver", "memory", "persistence driver: memory|sqlite|postgres"),
		sqlitePath:  fs.String("sqlite-path", "timechain.db", "sqlite database path (driver=sqlite)"),
		postgresDSN: fs.String("postgres-dsn", "", "postgres DSN (driver=postgres)"),
	}
}

func (f storeFlags) open() (persistence.Store[map[string]any], error) {
	cfg := persistence.Config{
		Driver:      persistence.Driver(*f.driver),
		SQLitePath:  *f.sqlitePath,
		PostgresDSN: *f.postgresDSN,
	}
	return persistence.Open[map[string]any](cfg, diffengine.New())
}

func newService(store persistence.Store[map[string]any]) *core.Service[map[string]any] {
	return core.New[map[string]any](store, core.WithLogger[map[string]any](slog.Default()))
}

func parseEntity(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var entity map[string]any
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		return nil, fmt.Errorf("parse entity JSON: %w", err)
	}
	return entity, nil
}

func parsePolicy(raw string) (domain.FuturePolicy, error) {
	switch raw {
	case "", "none":
		return domain.NoFuturePolicy, nil
	case "keep":
		return domain.KeepFuture, nil
	case "overwrite":
		return domain.OverwriteFuture, nil
	default:
		return domain.NoFuturePolicy, fmt.Errorf("unknown policy %q", raw)
	}
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	timeline := fs.String("timeline", "", "timeline id")
	moment := fs.String("moment", "", "RFC3339 moment the change takes effect")
	entityJSON := fs.String("entity", "", "JSON object for the changed entity")
	initialJSON := fs.String("initial", "", "JSON object for the initial entity (only used if the timeline does not exist yet)")
	policyFlag := fs.String("policy", "none", "future policy when inserting before existing data: none|keep|overwrite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeline == "" {
		return fmt.Errorf("add: -timeline is required")
	}
	when, err := time.Parse(time.RFC3339, *moment)
	if err != nil {
		return fmt.Errorf("add: parse -moment: %w", err)
	}
	changed, err := parseEntity(*entityJSON)
	if err != nil {
		return err
	}
	policy, err := parsePolicy(*policyFlag)
	if err != nil {
		return err
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	svc := newService(backend)

	exists := false
	for _, id := range svc.Timelines() {
		if id == *timeline {
			exists = true
			break
		}
	}
	if !exists {
		initial, err := parseEntity(*initialJSON)
		if err != nil {
			return err
		}
		if err := svc.CreateTimeline(*timeline, initial, domain.Forward); err != nil {
			return err
		}
	}
	return svc.Add(*timeline, changed, when, policy)
}

func runPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	timeline := fs.String("timeline", "", "timeline id")
	moment := fs.String("moment", "", "RFC3339 moment to reconstruct")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeline == "" {
		return fmt.Errorf("patch: -timeline is required")
	}
	when, err := time.Parse(time.RFC3339, *moment)
	if err != nil {
		return fmt.Errorf("patch: parse -moment: %w", err)
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	svc := newService(backend)

	rec, err := svc.PatchToDate(*timeline, when)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runReverse(args []string) error {
	fs := flag.NewFlagSet("reverse", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	timeline := fs.String("timeline", "", "timeline id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeline == "" {
		return fmt.Errorf("reverse: -timeline is required")
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	svc := newService(backend)

	boundary, err := svc.Reverse(*timeline)
	if err != nil {
		return err
	}
	return printJSON(boundary)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	svc := newService(backend)
	return printJSON(svc.Timelines())
}

func runArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	timeline := fs.String("timeline", "", "timeline id")
	moment := fs.String("moment", "", "RFC3339 moment to archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeline == "" {
		return fmt.Errorf("archive: -timeline is required")
	}
	when, err := time.Parse(time.RFC3339, *moment)
	if err != nil {
		return fmt.Errorf("archive: parse -moment: %w", err)
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	archiveStore, err := blob.Open(context.Background())
	if err != nil {
		return fmt.Errorf("archive: open blob store: %w", err)
	}
	svc := core.New[map[string]any](backend,
		core.WithLogger[map[string]any](slog.Default()),
		core.WithArchive[map[string]any](archiveStore))

	info, err := svc.Archive(context.Background(), *timeline, when)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runArchiveLatest(args []string) error {
	fs := flag.NewFlagSet("archive-latest", flag.ContinueOnError)
	store := bindStoreFlags(fs)
	timeline := fs.String("timeline", "", "timeline id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeline == "" {
		return fmt.Errorf("archive-latest: -timeline is required")
	}

	backend, err := store.open()
	if err != nil {
		return err
	}
	archiveStore, err := blob.Open(context.Background())
	if err != nil {
		return fmt.Errorf("archive-latest: open blob store: %w", err)
	}
	svc := core.New[map[string]any](backend,
		core.WithLogger[map[string]any](slog.Default()),
		core.WithArchive[map[string]any](archiveStore))

	info, err := svc.LatestArchive(context.Background(), *timeline)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
