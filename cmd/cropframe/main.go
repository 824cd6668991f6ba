package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/cropframe"
	"github.com/menta2k/cropframe/internal/config"
	"github.com/menta2k/cropframe/internal/logging"
	"github.com/menta2k/cropframe/pkg/geom"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var cli cliArgs
	cliCtx := kong.Parse(
		&cli,
		kong.Name("cropframe"),
		kong.Description("Bounded pan-zoom image cropping."),
		kong.UsageOnError(),
		kong.Vars{"version": cropframe.Version},
	)
	return cliCtx.Run(&cli.Globals)
}

type cliArgs struct {
	Globals

	Crop    cropCmd          `cmd:"" help:"Crop one image through a scripted session."`
	Batch   batchCmd         `cmd:"" help:"Crop every image in a directory."`
	Serve   serveCmd         `cmd:"" help:"Host interactive crop sessions over HTTP."`
	Frame   frameCmd         `cmd:"" help:"Print the crop geometry for an image and viewport as JSON."`
	Init    initCmd          `cmd:"" help:"Write the default configuration file."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

// Globals are flags shared by every command
type Globals struct {
	Config    string `help:"Configuration file (json or yaml)." type:"path"`
	LogLevel  string `help:"Log level override (trace, debug, info, warn, error)."`
	LogFormat string `help:"Log format override (console or json)."`
	Verbose   bool   `short:"v" help:"Enable debug logging."`
}

// load reads the configuration, applies the logging overrides and installs
// the global logger. The returned context carries that logger.
func (g *Globals) load() (context.Context, *config.Config, error) {
	cfg, err := g.readConfig()
	if err != nil {
		return nil, nil, err
	}

	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.Verbose {
		cfg.Log.Level = "debug"
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}

	logger, err := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return logger.WithContext(context.Background()), cfg, nil
}

func (g *Globals) readConfig() (*config.Config, error) {
	if g.Config != "" {
		return config.LoadFromFile(g.Config)
	}
	cfg, err := config.LoadFromFile(config.GetConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// engine validates cfg and builds the crop engine with the global logger
func engine(ctx context.Context, cfg *config.Config) (*cropframe.Engine, error) {
	return cropframe.NewEngine(cfg, *log.Ctx(ctx))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// parseSize parses "WIDTHxHEIGHT"
func parseSize(s string) (geom.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return geom.Size{}, fmt.Errorf("size %q: expected WIDTHxHEIGHT", s)
	}
	wf, err1 := strconv.ParseFloat(w, 64)
	hf, err2 := strconv.ParseFloat(h, 64)
	if err1 != nil || err2 != nil {
		return geom.Size{}, fmt.Errorf("size %q: expected WIDTHxHEIGHT", s)
	}
	size := geom.Sz(wf, hf)
	if err := size.Validate(); err != nil {
		return geom.Size{}, fmt.Errorf("size %q: %w", s, err)
	}
	return size, nil
}

// parsePoint parses a normalized "X,Y" point
func parsePoint(s string) (geom.Point, error) {
	x, y, ok := strings.Cut(s, ",")
	if !ok {
		return geom.Point{}, fmt.Errorf("point %q: expected X,Y", s)
	}
	xf, err1 := strconv.ParseFloat(strings.TrimSpace(x), 64)
	yf, err2 := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if err1 != nil || err2 != nil {
		return geom.Point{}, fmt.Errorf("point %q: expected X,Y", s)
	}
	return geom.Pt(xf, yf), nil
}
