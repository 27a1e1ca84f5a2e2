// Package cli implements the storyline command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/bryan-buckman/storyline/internal/config"
	"github.com/bryan-buckman/storyline/internal/database"
	"github.com/bryan-buckman/storyline/internal/logger"
	"github.com/bryan-buckman/storyline/internal/rss"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Options are accepted before any command.
type Options struct {
	Config string `short:"c" long:"config" env:"STORYLINE_CONFIG" description:"Path to the YAML config file"`
	DB     string `long:"db" env:"STORYLINE_DB" description:"SQLite database file, overrides the configured database"`
	Debug  bool   `long:"debug" env:"STORYLINE_DEBUG" description:"Enable debug logging"`
}

// App carries the state shared by all commands. Dependencies are built on
// first use so that commands which do not touch the database never open it.
type App struct {
	Options Options

	ctx      context.Context
	out      io.Writer
	cfg      *config.Config
	pipeline *rss.Pipeline
	store    database.Store
	fetcher  *rss.Fetcher
}

// Run parses args and executes the selected command, writing its output
// to out.
func Run(ctx context.Context, args []string, out io.Writer) error {
	app := &App{ctx: ctx, out: out}
	defer app.close()

	parser := flags.NewParser(&app.Options, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "storyline"
	parser.LongDescription = "Fetch RSS feeds into a local reading list."
	app.register(parser)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(out, flagsErr.Message)
			return nil
		}
		return err
	}
	return nil
}

func (a *App) register(p *flags.Parser) {
	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"preview", "Fetch a feed and print it without storing it", &previewCommand{app: a}},
		{"lookup", "Print the first story of a feed with the given title", &lookupCommand{app: a}},
		{"subscribe", "Fetch a feed and store it", &subscribeCommand{app: a}},
		{"feeds", "List stored feeds", &feedsCommand{app: a}},
		{"stories", "List the stories of a stored feed", &storiesCommand{app: a}},
		{"open", "Print a stored story and mark it read", &openCommand{app: a}},
		{"delete", "Delete a stored feed", &deleteCommand{app: a}},
		{"refresh", "Re-fetch one or all stored feeds", &refreshCommand{app: a}},
		{"seed", "Subscribe to the default feeds", &seedCommand{app: a}},
		{"import-opml", "Subscribe to every feed in an OPML file", &importCommand{app: a}},
		{"export-opml", "Write stored feeds as OPML", &exportCommand{app: a}},
		{"serve", "Serve the JSON API", &serveCommand{app: a}},
		{"version", "Print the version", &versionCommand{app: a}},
	}
	for _, c := range commands {
		if _, err := p.AddCommand(c.name, c.short, "", c.data); err != nil {
			panic(err)
		}
	}
}

// setupPipeline loads the configuration, initialises logging and builds the
// fetch pipeline.
func (a *App) setupPipeline() error {
	if a.pipeline != nil {
		return nil
	}

	path, optional := a.Options.Config, false
	if path == "" {
		path, optional = config.DefaultPath(), true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return err
	}
	if a.Options.DB != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = a.Options.DB
	}

	level := cfg.Log.Level
	if a.Options.Debug {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, File: cfg.Log.File}); err != nil {
		return err
	}

	src := rss.NewSource(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second, cfg.Fetch.MaxBodyBytes, cfg.Fetch.UserAgent)
	a.cfg = cfg
	a.pipeline = rss.NewPipeline(src, cfg.Content.WrapWidth)
	return nil
}

// setupStore additionally opens the configured database.
func (a *App) setupStore() error {
	if a.fetcher != nil {
		return nil
	}
	if err := a.setupPipeline(); err != nil {
		return err
	}

	store, err := database.Open(a.cfg.Database.Driver, a.cfg.Database.Path, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	logger.Debugf("using %s database", store.DatabaseType())
	a.store = store
	a.fetcher = rss.NewFetcher(store, a.pipeline)
	return nil
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close database: %v", err)
		}
	}
	logger.Sync()
}
