package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/sitepress/internal/builder"
	"git.home.luguber.info/inful/sitepress/internal/config"
	"git.home.luguber.info/inful/sitepress/internal/history"
	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/metrics"
	"git.home.luguber.info/inful/sitepress/internal/notify"
	"git.home.luguber.info/inful/sitepress/internal/scope"
)

var version = "dev"

var CLI struct {
	Config  string   `short:"c" help:"Configuration file path" default:"sitepress.yaml"`
	Verbose bool     `short:"v" help:"Enable verbose logging"`
	Env     []string `short:"e" help:"Extra scope bindings as KEY=VALUE, visible to all commands"`

	Build struct {
		Source string `arg:"" optional:"" help:"Source directory (defaults to configured source)"`
		Target string `arg:"" optional:"" help:"Output directory (defaults to configured target)"`
	} `cmd:"" help:"Build the site once from a local source tree"`

	Deploy struct {
		Origin string `arg:"" optional:"" help:"Source repository URL (defaults to configured origin)"`
		Target string `arg:"" optional:"" help:"Target working copy (defaults to configured target)"`
		Branch string `short:"b" help:"Publish branch (defaults to configured branch)"`
	} `cmd:"" help:"Clone the source repository, build when stale, and push the result to the publish branch"`

	Serve struct {
		Source string `arg:"" optional:"" help:"Source directory to watch (defaults to configured source)"`
		Target string `arg:"" optional:"" help:"Built site directory (defaults to configured target)"`
		Addr   string `help:"Listen address (defaults to configured addr)"`
	} `cmd:"" help:"Watch, rebuild on change, and serve the built site"`

	Run struct {
		Name string   `arg:"" help:"Command name"`
		Args []string `arg:"" optional:"" passthrough:"" help:"Positional arguments"`
	} `cmd:"" help:"Run a named command (built-in or from the configuration)"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`

	History struct {
		Limit int    `default:"20" help:"Number of recent events to show"`
		Build string `help:"Show all events for one build ID"`
	} `cmd:"" help:"Show recent build events from the ledger"`

	Version struct{} `cmd:"" help:"Print the version"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cmd := strings.Fields(kctx.Command())[0]

	if cmd == "version" {
		fmt.Println(version)
		return
	}
	if cmd == "init" {
		fatalOn(config.Init(CLI.Config, CLI.Init.Force), "Init failed")
		return
	}

	cfg, err := config.Load(CLI.Config)
	fatalOn(err, "Failed to load configuration")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd == "history" {
		fatalOn(runHistory(ctx, cfg), "History failed")
		return
	}

	b, cleanup, err := newBuilder(cfg, cmd == "serve")
	fatalOn(err, "Failed to initialize")
	defer cleanup()

	reg, err := b.Registry()
	fatalOn(err, "Invalid command set")

	extra, err := parseBindings(CLI.Env)
	fatalOn(err, "Invalid -e binding")

	switch cmd {
	case "build":
		sc := b.BaseScope(extra)
		fatalOn(b.Execute(ctx, reg, "build", sc, buildArgs(sc)), "Build failed")
	case "deploy":
		if CLI.Deploy.Origin != "" {
			extra["origin"] = CLI.Deploy.Origin
		}
		if CLI.Deploy.Target != "" {
			extra["target"] = CLI.Deploy.Target
		}
		if CLI.Deploy.Branch != "" {
			extra["branch"] = CLI.Deploy.Branch
		}
		sc := b.BaseScope(extra)
		fatalOn(b.Execute(ctx, reg, "deploy", sc, nil), "Deploy failed")
	case "serve":
		if CLI.Serve.Source != "" {
			extra["source"] = CLI.Serve.Source
		}
		if CLI.Serve.Target != "" {
			extra["target"] = CLI.Serve.Target
		}
		if CLI.Serve.Addr != "" {
			cfg.Serve.Addr = CLI.Serve.Addr
		}
		sc := b.BaseScope(extra)
		fatalOn(b.Execute(ctx, reg, "serve", sc, nil), "Serve failed")
	case "run":
		sc := b.BaseScope(extra)
		fatalOn(b.Execute(ctx, reg, CLI.Run.Name, sc, CLI.Run.Args), "Command failed")
	}
}

// buildArgs maps the CLI's optional positionals onto the "build" command's
// arguments, falling back to the configured source/target.
func buildArgs(sc *scope.Scope) []string {
	source := CLI.Build.Source
	if source == "" {
		source = sc.Lookup("source")
	}
	target := CLI.Build.Target
	if target == "" {
		target = sc.Lookup("target")
	}
	return []string{source, target}
}

func newBuilder(cfg *config.Config, serving bool) (*builder.Builder, func(), error) {
	var opts []builder.Option
	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	if cfg.Metrics.Enabled && serving {
		opts = append(opts, builder.WithRecorder(metrics.NewPrometheusRecorder(prometheus.NewRegistry())))
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open history ledger: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := store.Close(); err != nil {
				slog.Warn("history close failed", logfields.Error(err))
			}
		})
		opts = append(opts, builder.WithHistory(store))
	}
	if cfg.Notify.Enabled {
		pub, err := notify.New(cfg.Notify.URL, cfg.Notify.Stream, cfg.Notify.Subject)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect notifier: %w", err)
		}
		cleanups = append(cleanups, pub.Close)
		opts = append(opts, builder.WithNotifier(pub))
	}

	return builder.New(cfg, opts...), cleanup, nil
}

func runHistory(ctx context.Context, cfg *config.Config) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history ledger: %w", err)
	}
	defer store.Close()

	var events []history.Event
	if CLI.History.Build != "" {
		events, err = store.ForBuild(ctx, CLI.History.Build)
	} else {
		events, err = store.Recent(ctx, CLI.History.Limit)
	}
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("%s  %-16s  %s  %s\n", e.Time.Format("2006-01-02 15:04:05"), e.Type, e.BuildID, e.Payload)
	}
	return nil
}

func parseBindings(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

func fatalOn(err error, msg string) {
	if err == nil {
		return
	}
	slog.Error(msg, logfields.Error(err))
	os.Exit(1)
}
