// Command fileq answers natural-language questions over local data
// files (CSV, TSV, xlsx, parquet).
//
// Sources are given as files or directories; directories are walked and
// every supported file found is registered. Each -q query runs against
// the registered catalog and prints an aligned table plus a provenance
// trace showing which sources, join keys, and filters shaped the
// answer.
//
// # Translation
//
// When OPENAI_API_KEY is set (directly or via .env), questions are
// translated by the model named in OPENAI_MODEL. Without a key, a
// rule-based fallback handles single-source questions; multi-source
// questions then fail with an explanation rather than guessing.
//
// # Configuration
//
// Settings resolve with strict precedence:
//
//  1. command-line flags
//  2. environment variables (a .env file is loaded when present)
//  3. the YAML config file (-config, default fileq.yaml when it exists)
//
// # Export
//
// Results can be written to a relational store with -export-kind
// (sqlite, postgres, mssql), -export-dsn, and -export-table. The
// destination table is created from the result columns unless
// -export-create=false.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"filequery"
	"filequery/internal/export"
	"filequery/internal/format"
	"filequery/internal/intent"
	"filequery/internal/metrics"
	"filequery/internal/metrics/datadog"
	"filequery/internal/qerr"

	_ "filequery/internal/export/mssql"
	_ "filequery/internal/export/postgres"
	_ "filequery/internal/export/sqlite"
)

// fileConfig is the YAML config file shape. Every field has a flag or
// environment override.
type fileConfig struct {
	Files      []string `yaml:"files"`
	SampleRows int      `yaml:"sample_rows"`
	Snapshot   string   `yaml:"snapshot"`

	OpenAIModel string `yaml:"openai_model"`

	Export struct {
		Kind  string `yaml:"kind"`
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"export"`

	Datadog struct {
		Enabled bool   `yaml:"enabled"`
		Service string `yaml:"service"`
		Tags    string `yaml:"tags"`
	} `yaml:"datadog"`
}

func main() {
	// Exit deferred so run's cleanup (engine close, metrics flush) runs.
	os.Exit(run())
}

func run() int {
	var (
		// flagQuery is the question to answer. May repeat.
		flagQuery multiFlag

		// flagConfig names the YAML config file. The default is only
		// read when it exists; a config named explicitly must exist.
		flagConfig = flag.String("config", "fileq.yaml", "YAML config file")

		// flagSample bounds schema inference per source. 0 keeps the
		// config file or built-in default.
		flagSample = flag.Int("sample", 0, "Rows sampled per source for schema inference")

		// flagList prints the registered catalog after registration.
		flagList = flag.Bool("list", false, "Print registered sources and their schemas")

		// flagSnapshot saves the catalog as JSON after registration, so
		// later runs can skip re-inference with -load-snapshot.
		flagSnapshot     = flag.String("snapshot", "", "Write catalog snapshot JSON to this path")
		flagLoadSnapshot = flag.String("load-snapshot", "", "Load a catalog snapshot before registering files")

		// Export flags: highest-precedence override of export settings.
		flagExportKind   = flag.String("export-kind", "", "Export backend: sqlite|postgres|mssql")
		flagExportDSN    = flag.String("export-dsn", "", "Export backend DSN")
		flagExportTable  = flag.String("export-table", "", "Export destination table")
		flagExportCreate = flag.Bool("export-create", true, "Create the export table if missing")

		// Datadog flags. Credentials come from DD_API_KEY/DD_APP_KEY.
		flagDatadog     = flag.Bool("datadog", false, "Publish query metrics to Datadog")
		flagDatadogTags = flag.String("datadog-tags", "", "Extra Datadog tags, comma-separated (env:prod,team:data)")

		flagVerbose = flag.Bool("v", false, "Verbose logging to stderr")
	)
	flag.Var(&flagQuery, "q", "Question to answer (repeatable)")
	flag.Parse()

	// .env is a convenience for OPENAI_API_KEY and DD_* credentials;
	// absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New(os.Stderr, "fileq: ", log.LstdFlags)
	if !*flagVerbose {
		logger.SetOutput(nullWriter{})
	}

	sample := cfg.SampleRows
	if *flagSample > 0 {
		sample = *flagSample
	}

	var backend metrics.Backend = metrics.Nop{}
	if *flagDatadog || cfg.Datadog.Enabled {
		tags := *flagDatadogTags
		if tags == "" {
			tags = cfg.Datadog.Tags
		}
		dd, err := datadog.NewBackend(context.Background(), datadog.Options{
			ServiceName: cfg.Datadog.Service,
			Tags:        datadog.ParseTagsCSV(tags),
		})
		if err != nil {
			log.Fatalf("datadog: %v", err)
		}
		backend = dd
	}

	var translator intent.Translator
	if t := openAITranslator(cfg.OpenAIModel); t != nil {
		translator = t
	}

	eng := filequery.New(filequery.Options{
		SampleRows: sample,
		Translator: translator,
		Metrics:    backend,
		Logger:     logger,
	})
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if *flagLoadSnapshot != "" {
		n, err := eng.Catalog().LoadSnapshot(*flagLoadSnapshot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load snapshot: %v\n", err)
			return 1
		}
		logger.Printf("loaded %d sources from snapshot", n)
	}

	paths := append(append([]string(nil), cfg.Files...), flag.Args()...)
	files, err := discoverFiles(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover: %v\n", err)
		return 1
	}
	if len(files) == 0 && *flagLoadSnapshot == "" {
		fmt.Fprintln(os.Stderr, "no input files; pass files or directories as arguments")
		flag.Usage()
		return 2
	}

	_, regErrs := eng.AddFiles(ctx, files)
	for path, err := range regErrs {
		// Empty files register with a usable schema; everything else
		// is skipped but does not abort the run.
		if qerr.IsKind(err, qerr.EmptySource) {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", path, err)
	}

	if *flagSnapshot != "" {
		if err := eng.Catalog().SaveSnapshot(*flagSnapshot); err != nil {
			fmt.Fprintf(os.Stderr, "save snapshot: %v\n", err)
			return 1
		}
	} else if cfg.Snapshot != "" {
		if err := eng.Catalog().SaveSnapshot(cfg.Snapshot); err != nil {
			fmt.Fprintf(os.Stderr, "save snapshot: %v\n", err)
			return 1
		}
	}

	if *flagList {
		printCatalog(eng)
	}

	expCfg := resolveExport(cfg, *flagExportKind, *flagExportDSN, *flagExportTable, *flagExportCreate)

	exitCode := 0
	for _, query := range flagQuery {
		if err := runQuery(ctx, eng, backend, query, expCfg); err != nil {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", qerr.KindOf(err), err)
			exitCode = 1
		}
	}
	return exitCode
}

func runQuery(ctx context.Context, eng *filequery.Engine, backend metrics.Backend, query string, expCfg *export.Config) error {
	ans, err := eng.Answer(ctx, query)
	if err != nil {
		return err
	}

	fmt.Println(ans.Presentation.Text)
	fmt.Println(format.RenderTrace(ans.Result.Trace))

	if expCfg == nil {
		return nil
	}

	exp, err := export.New(ctx, *expCfg)
	if err != nil {
		return err
	}
	defer exp.Close()

	n, err := export.Write(ctx, exp, *expCfg, ans.Result)
	if err != nil {
		return err
	}
	backend.IncCounter("rows_exported_total", float64(n), metrics.Labels{"backend": expCfg.Kind})
	fmt.Fprintf(os.Stderr, "exported %d rows to %s %s\n", n, expCfg.Kind, expCfg.Table)
	return nil
}

// loadConfig reads the YAML config. The default file name is optional;
// an explicitly named file must exist.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == "fileq.yaml" {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func openAITranslator(model string) intent.Translator {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		model = m
	}
	return intent.NewOpenAITranslator(key, model)
}

// discoverFiles expands files and directories into the supported files
// beneath them. Unsupported files inside directories are skipped
// silently; files named directly are kept so registration can report
// why they are unsupported.
func discoverFiles(paths []string) ([]string, error) {
	supported := map[string]bool{".csv": true, ".tsv": true, ".xlsx": true, ".parquet": true}

	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !supported[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printCatalog(eng *filequery.Engine) {
	for _, s := range eng.Sources() {
		fmt.Printf("%s  (%s, ~%d rows)  %s\n", s.Name, s.Format, s.Schema.RowEstimate, s.Path)
		for _, c := range s.Schema.Columns {
			fmt.Printf("    %-24s %s\n", c.Key, c.Type)
		}
	}
}

// resolveExport merges export settings: flags win over the config file.
// Export is enabled only when a kind and table are both resolved.
func resolveExport(cfg *fileConfig, kind, dsn, table string, create bool) *export.Config {
	if kind == "" {
		kind = cfg.Export.Kind
	}
	if dsn == "" {
		dsn = cfg.Export.DSN
	}
	if table == "" {
		table = cfg.Export.Table
	}
	if kind == "" || table == "" {
		return nil
	}
	return &export.Config{Kind: kind, DSN: dsn, Table: table, CreateTable: create}
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, "; ") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
