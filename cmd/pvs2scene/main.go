// Command pvs2scene flattens a PVS assembly document into scene JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlas-foundry/pvs-go-sdk/internal/config"
	"github.com/atlas-foundry/pvs-go-sdk/internal/server"
	"github.com/atlas-foundry/pvs-go-sdk/internal/store"
	"github.com/atlas-foundry/pvs-go-sdk/internal/watch"
	"github.com/atlas-foundry/pvs-go-sdk/pvs"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return runWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// settings are the flag values shared by both modes. Flags only override
// the config file when explicitly set.
type settings struct {
	configPath string
	logLevel   string
	logFormat  string
	strict     bool
	maxDepth   int
	root       int
	revision   string
	sqlitePath string
}

func (s *settings) register(fs *flag.FlagSet) {
	fs.StringVar(&s.configPath, "config", "", "YAML or TOML config file")
	fs.StringVar(&s.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&s.logFormat, "log-format", "", "log format: text or json")
	fs.BoolVar(&s.strict, "strict", false, "validate the component catalog before flattening")
	fs.IntVar(&s.maxDepth, "max-depth", 0, "fail when the hierarchy is deeper than this (0 = unbounded)")
	fs.IntVar(&s.root, "root", -1, "catalog index of the root component (default: last component)")
	fs.StringVar(&s.revision, "revision", "", "supplied revision id stamped on leaf sources")
	fs.StringVar(&s.sqlitePath, "sqlite", "", "also store scene items in this SQLite database")
}

// load reads the config file and applies the flags that were set.
func (s *settings) load(fs *flag.FlagSet, extra func(name string, cfg *config.Config)) (*config.Config, error) {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = s.logLevel
		case "log-format":
			cfg.LogFormat = s.logFormat
		case "strict":
			cfg.Strict = s.strict
		case "max-depth":
			cfg.MaxDepth = s.maxDepth
		case "root":
			root := s.root
			cfg.RootIndex = &root
		case "revision":
			cfg.RevisionID = s.revision
		case "sqlite":
			cfg.SQLitePath = s.sqlitePath
		default:
			if extra != nil {
				extra(f.Name, cfg)
			}
		}
	})
	return cfg, cfg.Validate()
}

func runWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "serve" {
		return runServe(ctx, args[1:], stderr)
	}

	fs := flag.NewFlagSet("pvs2scene", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var s settings
	s.register(fs)
	pretty := fs.Bool("pretty", false, "indent the JSON output")
	format := fs.String("format", "json", "output format: json or dot")
	reportPath := fs.String("report", "", "write an assembly report (.md, .org or .html)")
	reportSource := fs.String("report-source", "", "text format converted for .html reports: markdown or org")
	checkRotations := fs.Bool("check-rotations", false, "warn about orientations that are not rotations")
	watchMode := fs.Bool("watch", false, "re-run the conversion whenever the source changes")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pvs2scene [flags] <src.xml> <dst.json>\n")
		fmt.Fprintf(stderr, "       pvs2scene serve [flags]\n\n")
		fmt.Fprintln(stderr, "Flattens a PVS assembly document into an ordered list of scene items.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "error:", pvs.NewArgumentError("source and destination paths are required"))
		fs.Usage()
		return 2
	}
	if *format != "json" && *format != "dot" {
		fmt.Fprintf(stderr, "error: unknown format %q\n", *format)
		fs.Usage()
		return 2
	}
	src, dst := fs.Arg(0), fs.Arg(1)

	cfg, err := s.load(fs, func(name string, cfg *config.Config) {
		switch name {
		case "pretty":
			cfg.Pretty = *pretty
		case "report":
			cfg.Report.Path = *reportPath
		case "report-source":
			cfg.Report.Source = *reportSource
		case "check-rotations":
			cfg.CheckRotations = *checkRotations
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger := cfg.NewLogger(stderr)

	c := converter{cfg: cfg, logger: logger, format: *format}
	if err := c.convert(ctx, src, dst); err != nil {
		logger.Error("conversion failed", "src", src, "error", err)
		fmt.Fprintf(stderr, "error: %v\n", err)
		if !*watchMode {
			return 1
		}
	}
	if !*watchMode {
		return 0
	}

	w, err := watch.New(src, watch.Options{Debounce: cfg.Watch.Debounce.Duration, Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := w.Run(ctx, func(ctx context.Context) error { return c.convert(ctx, src, dst) }); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type converter struct {
	cfg    *config.Config
	logger *slog.Logger
	format string
}

// convert runs one src -> dst conversion plus the optional report, rotation
// check and SQLite copy. Any failure leaves dst as it was.
func (c converter) convert(ctx context.Context, src, dst string) error {
	doc, err := pvs.ParseFileWithOptions(src, c.cfg.ParseOptions())
	if err != nil {
		return err
	}
	if c.cfg.CheckRotations {
		for _, w := range pvs.CheckRotations(doc, c.cfg.RotationTolerance) {
			c.logger.Warn("orientation is not a rotation",
				"component", w.Component,
				"name", w.Name,
				"instance", w.InstanceID,
				"determinant", w.Determinant,
				"reason", w.Message,
			)
		}
	}
	items, err := pvs.FlattenDocument(doc, c.cfg.FlattenOptions(c.logger))
	if err != nil {
		return err
	}
	var r pvs.Renderer = pvs.JSONRenderer{Pretty: c.cfg.Pretty}
	if c.format == "dot" {
		r = pvs.GraphvizRenderer{}
	}
	// dst is replaced last so a failed report or SQLite step leaves it untouched.
	if c.cfg.Report.Path != "" {
		if err := pvs.WriteReport(c.cfg.Report.Path, pvs.BuildReport(items), pvs.TextFormat(c.cfg.Report.Source)); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if c.cfg.SQLitePath != "" {
		if err := storeItems(ctx, c.cfg.SQLitePath, src, items, c.logger); err != nil {
			return err
		}
	}
	if err := pvs.WriteFile(dst, items, r); err != nil {
		return err
	}
	c.logger.Info("scene written", "src", src, "dst", dst, "items", len(items))
	return nil
}

func storeItems(ctx context.Context, path, source string, items []pvs.SceneItem, logger *slog.Logger) error {
	sink, err := store.Open(ctx, path, logger)
	if err != nil {
		return err
	}
	werr := sink.Write(ctx, source, items)
	return errors.Join(werr, sink.Close())
}

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pvs2scene serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var s settings
	s.register(fs)
	listen := fs.String("listen", "", "listen address (default from config, :8086)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(stderr, "error: unexpected arguments %v\n", fs.Args())
		fs.Usage()
		return 2
	}
	cfg, err := s.load(fs, func(name string, cfg *config.Config) {
		if name == "listen" {
			cfg.Serve.Listen = *listen
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger := cfg.NewLogger(stderr)
	slog.SetDefault(logger)

	var opts []server.Option
	if cfg.SQLitePath != "" {
		sink, err := store.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		defer sink.Close()
		opts = append(opts, server.WithSink(sink))
	}
	if err := server.New(cfg, logger, opts...).ListenAndServe(ctx); err != nil {
		logger.Error("http server", "error", err)
		return 1
	}
	return 0
}
