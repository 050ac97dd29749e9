package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"corpusidx/internal/config"
	"corpusidx/internal/execctx"
	"corpusidx/pkg/api"
	"corpusidx/pkg/converter"
	"corpusidx/pkg/encoder"
	"corpusidx/pkg/report"
	"corpusidx/pkg/store"
	"corpusidx/pkg/training"
)

// kindsFor expands "all" into every split.
func kindsFor(kind string) ([]string, error) {
	if kind == "all" {
		return config.DatasetKinds, nil
	}
	if !config.IsDatasetKind(kind) {
		return nil, fmt.Errorf("%w: %q", converter.ErrUnknownDatasetKind, kind)
	}
	return []string{kind}, nil
}

func runConvert(ctx context.Context, env *execctx.Env, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	kind := fs.String("kind", "all", "Dataset split: train, val, test or all")
	window := fs.Int("window", env.Config.Preprocessing.Window, "Rows buffered per flush")
	fs.Parse(args)

	kinds, err := kindsFor(*kind)
	if err != nil {
		return err
	}
	enc, err := encoder.FromConfig(env.Config)
	if err != nil {
		return err
	}

	conv := converter.New(env, enc)
	for _, k := range kinds {
		res, err := conv.Convert(ctx, k, *window)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		env.Logger.Info("%s: cursor %d after %d flushes", k, res.Cursor, res.Flushes)
	}
	return nil
}

func collectDatasets(env *execctx.Env, kinds []string, verify bool) ([]report.Dataset, error) {
	var out []report.Dataset
	for _, k := range kinds {
		st, err := converter.OpenStore(env, k, store.ReadOnly())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if verify {
			if err := st.Verify(); err != nil {
				st.Close()
				return nil, fmt.Errorf("%s: %w", k, err)
			}
		}
		stats, err := st.Stats()
		st.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out = append(out, report.Dataset{Kind: k, Stats: stats})
	}
	return out, nil
}

func runInspect(_ context.Context, env *execctx.Env, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	kind := fs.String("kind", "all", "Dataset split: train, val, test or all")
	verify := fs.Bool("verify", false, "Check arrays against the manifest and the noise partition")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	fs.Parse(args)

	kinds, err := kindsFor(*kind)
	if err != nil {
		return err
	}
	sets, err := collectDatasets(env, kinds, *verify)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sets)
	}
	fmt.Println(report.Datasets(sets))
	if *verify {
		env.Logger.Info("All %d splits verified", len(sets))
	}
	return nil
}

func runExport(_ context.Context, env *execctx.Env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	kind := fs.String("kind", "train", "Dataset split: train, val or test")
	out := fs.String("out", "", "Output Parquet file (default <data_dir>/<kind>.parquet)")
	workers := fs.Int64("workers", 4, "Parquet writer parallelism")
	fs.Parse(args)

	if !config.IsDatasetKind(*kind) {
		return fmt.Errorf("%w: %q", converter.ErrUnknownDatasetKind, *kind)
	}
	path := *out
	if path == "" {
		path = env.Config.Resolve(*kind + ".parquet")
	}

	st, err := converter.OpenStore(env, *kind, store.ReadOnly())
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.ExportParquet(path, env.Config.Preprocessing.VnMaxIndices, *workers); err != nil {
		return err
	}
	return nil
}

func runReport(_ context.Context, env *execctx.Env, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	run := fs.String("run", "", "Training run to show (default: all runs of the configured model)")
	fs.Parse(args)

	sets, err := collectDatasets(env, config.DatasetKinds, false)
	if err != nil {
		return err
	}
	fmt.Println(report.Datasets(sets))

	runs := []string{*run}
	if *run == "" {
		runs, err = listRuns(env)
		if err != nil {
			return err
		}
	}
	for _, r := range runs {
		h, err := training.LoadHistory(filepath.Join(training.RunDir(env, r), training.StatsFile))
		if errors.Is(err, os.ErrNotExist) {
			env.Logger.Warn("Run %s has no %s", r, training.StatsFile)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Println(report.History(r, h, env.Config.Train.Margin()))
	}
	return nil
}

func listRuns(env *execctx.Env) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(training.RunDir(env, "_")))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

func runServe(ctx context.Context, env *execctx.Env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", env.Config.Server.Addr, "Listen address")
	fs.Parse(args)

	return api.NewServer(env).Run(ctx, *addr)
}
