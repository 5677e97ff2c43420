package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"scratch-registry/internal/catalog"
	"scratch-registry/internal/differ"
	"scratch-registry/internal/storage"
)

// Diff prints the delta between two registry files.
func (a *App) Diff(ctx context.Context, opts DiffOptions) (differ.Delta, error) {
	if opts.OldPath == "" || opts.NewPath == "" {
		return differ.Delta{}, errors.New("both --old and --new are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	prev, err := a.readRegistry(ctx, opts.OldPath)
	if err != nil {
		return differ.Delta{}, err
	}
	curr, err := a.readRegistry(ctx, opts.NewPath)
	if err != nil {
		return differ.Delta{}, err
	}

	delta := differ.Compute(prev, curr, "diff", time.Now().UTC())
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return delta, enc.Encode(delta)
	}
	return delta, writeDelta(out, delta)
}

// readRegistry loads a registry file in strict mode so a corrupt input is
// reported instead of quarantined.
func (a *App) readRegistry(ctx context.Context, path string) (catalog.Registry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	store, err := storage.NewFileStore(storage.FileOptions{
		Dir:          filepath.Dir(path),
		RegistryFile: filepath.Base(path),
		Strict:       true,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return store.LoadRegistry(ctx)
}

func writeDelta(w io.Writer, d differ.Delta) error {
	if _, err := fmt.Fprintln(w, d.Summary); err != nil {
		return err
	}
	for _, g := range d.GamesAdded {
		fmt.Fprintf(w, "  + %s %s\n", g.GameID, g.GameName)
	}
	for _, g := range d.GamesRetired {
		fmt.Fprintf(w, "  - %s %s (%s)\n", g.GameID, g.GameName, g.Reason)
	}
	for _, pc := range d.PrizeChanges {
		fmt.Fprintf(w, "  ~ %s %s tier %d %s: %d -> %d (%s)\n",
			pc.GameID, pc.GameName, pc.PrizeTier, pc.PrizeValue, pc.OldRemaining, pc.NewRemaining, pc.Meaning)
	}
	_, err := fmt.Fprintf(w, "  wealth: %s -> %s\n", differ.FormatMoney(d.WealthBefore), differ.FormatMoney(d.WealthAfter))
	return err
}
