package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/menta2k/cropframe/internal/config"
	"github.com/menta2k/cropframe/internal/server"
	"github.com/menta2k/cropframe/internal/utils"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/session"
	"github.com/menta2k/cropframe/pkg/transform"
)

type cropCmd struct {
	Input    string  `arg:"" help:"Input image path or URL (jpg/png/webp)."`
	Out      string  `short:"o" help:"Output file. Defaults to the configured output directory."`
	Script   string  `help:"Gesture script to replay (yaml or json)." type:"existingfile"`
	Zoom     float64 `help:"Pinch magnification applied after the script." default:"1"`
	PanX     float64 `help:"Horizontal drag in viewport points applied after the zoom."`
	PanY     float64 `help:"Vertical drag in viewport points applied after the zoom."`
	Focus    string  `help:"Normalized X,Y point to center the crop on."`
	Auto     bool    `help:"Center the crop on the subject found by the focus backend."`
	Backend  string  `help:"Focus backend override (none, saliency, ollama, llamacpp)."`
	Aspect   string  `help:"Aspect ratio override (square, 4:5, 1.5, ...)."`
	Viewport string  `help:"Viewport override as WIDTHxHEIGHT."`
	Size     string  `help:"Output size override as WIDTHxHEIGHT."`
	Format   string  `help:"Output format override (jpg, png, webp)."`
	Debug    bool    `help:"Also write a debug overlay of the crop on the source."`
	Report   bool    `help:"Print the final session snapshot as JSON."`
}

func (cmd *cropCmd) Run(g *Globals) error {
	ctx, cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	if cmd.Backend != "" {
		cfg.Focus.Backend = cmd.Backend
	}
	if cmd.Format != "" {
		cfg.Output.Format = cmd.Format
	}
	if cmd.Size != "" {
		size, err := parseSize(cmd.Size)
		if err != nil {
			return err
		}
		cfg.Output.Width, cfg.Output.Height = int(size.Width), int(size.Height)
	}

	e, err := engine(ctx, cfg)
	if err != nil {
		return err
	}

	viewport := e.DefaultViewport()
	if cmd.Viewport != "" {
		size, err := parseSize(cmd.Viewport)
		if err != nil {
			return err
		}
		viewport = layout.Viewport{Size: size}
	}

	src, err := e.LoadSource(ctx, cmd.Input)
	if err != nil {
		return err
	}
	s, err := e.NewSession(src, viewport, cmd.Aspect)
	if err != nil {
		return err
	}

	var focus *geom.Point
	if cmd.Auto {
		p, err := e.AutoFocus(ctx, s)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("auto focus failed")
		} else {
			focus = &p
			log.Ctx(ctx).Info().Float64("x", p.X).Float64("y", p.Y).Msg("focused on subject")
		}
	}

	script, err := cmd.script()
	if err != nil {
		return err
	}
	if err := script.Replay(s); err != nil {
		return err
	}
	if len(script.Steps) > 0 {
		if last := script.Steps[len(script.Steps)-1]; last.Focus != nil {
			focus = last.Focus
		}
	}

	snapshot := s.Snapshot()
	result, err := s.Confirm(ctx)
	if err != nil {
		return err
	}

	out := cmd.Out
	if out == "" {
		if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
			return err
		}
		out = e.OutputPath(cmd.Input)
	}
	if err := e.Save(result.Image, out); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("output", out).
		Str("region", result.Region.String()).
		Bool("resized", result.Resized).
		Msg("wrote crop")

	if cmd.Debug {
		dbgPath := strings.TrimSuffix(out, filepath.Ext(out)) + "_debug" + filepath.Ext(out)
		if err := e.Save(e.Overlay(s, focus), dbgPath); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("debug overlay save failed")
		} else {
			log.Ctx(ctx).Info().Str("output", dbgPath).Msg("wrote debug overlay")
		}
	}

	if cmd.Report {
		return printJSON(snapshot)
	}
	return nil
}

// script builds the gesture sequence: the script file, then the explicit
// focus, zoom and pan flags
func (cmd *cropCmd) script() (session.Script, error) {
	var sc session.Script
	if cmd.Script != "" {
		loaded, err := session.LoadScript(cmd.Script)
		if err != nil {
			return sc, err
		}
		sc = loaded
	}
	if cmd.Focus != "" {
		p, err := parsePoint(cmd.Focus)
		if err != nil {
			return sc, err
		}
		sc.Append(session.FocusStep(p))
	}
	if cmd.Zoom != 1 {
		sc.Append(session.Pinch(cmd.Zoom, 8)...)
	}
	if cmd.PanX != 0 || cmd.PanY != 0 {
		sc.Append(session.Drag(cmd.PanX, cmd.PanY, 8)...)
	}
	return sc, nil
}

type batchCmd struct {
	Dir       string `arg:"" help:"Directory of images." type:"existingdir"`
	Recursive bool   `short:"r" help:"Descend into subdirectories."`
	Workers   int    `short:"j" help:"Parallel workers. Defaults to the CPU count."`
	Backend   string `help:"Focus backend override (none, saliency, ollama, llamacpp)."`
	OutDir    string `help:"Output directory override."`
}

func (cmd *batchCmd) Run(g *Globals) error {
	ctx, cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	if cmd.Backend != "" {
		cfg.Focus.Backend = cmd.Backend
	}
	if cmd.OutDir != "" {
		cfg.Output.Dir = cmd.OutDir
	}
	e, err := engine(ctx, cfg)
	if err != nil {
		return err
	}

	files, err := utils.ListImageFiles(cmd.Dir, cmd.Recursive)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(files) == 0 {
		log.Ctx(ctx).Warn().Str("dir", cmd.Dir).Msg("no images found")
		return nil
	}

	workers := cmd.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	start := time.Now()
	var done, bytesOut atomic.Int64
	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(workers)
	for _, file := range files {
		pooler.Go(func(ctx context.Context) error {
			out, err := e.CropFile(ctx, file)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("input", file).Msg("failed to crop")
				return err
			}
			if info, err := os.Stat(out); err == nil {
				bytesOut.Add(info.Size())
			}
			done.Add(1)
			return nil
		})
	}

	err = pooler.Wait()
	log.Ctx(ctx).Info().
		Int64("cropped", done.Load()).
		Int("total", len(files)).
		Str("written", utils.FormatFileSize(bytesOut.Load())).
		Dur("took", time.Since(start)).
		Msg("batch finished")
	return err
}

type serveCmd struct {
	Addr    string `help:"Listen address override."`
	Backend string `help:"Focus backend override (none, saliency, ollama, llamacpp)."`
}

func (cmd *serveCmd) Run(g *Globals) error {
	ctx, cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	if cmd.Addr != "" {
		cfg.Server.Addr = cmd.Addr
	}
	if cmd.Backend != "" {
		cfg.Focus.Backend = cmd.Backend
	}
	e, err := engine(ctx, cfg)
	if err != nil {
		return err
	}

	srv := server.New(e, server.Config{
		Addr:        cfg.Server.Addr,
		BodyLimit:   cfg.Server.BodyLimitMB << 20,
		MaxSessions: cfg.Server.MaxSessions,
		IdleTimeout: time.Duration(cfg.Server.IdleMinutes) * time.Minute,
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
		},
	})
	return srv.Run(ctx)
}

type frameCmd struct {
	Image    string `arg:"" help:"Upright image size as WIDTHxHEIGHT."`
	Viewport string `help:"Viewport override as WIDTHxHEIGHT."`
	Aspect   string `help:"Aspect ratio override."`
}

type frameReport struct {
	Viewport layout.Viewport  `json:"viewport"`
	Frame    layout.CropFrame `json:"frame"`
	BaseSize geom.Size        `json:"base_size"`
	MinScale float64          `json:"min_scale"`
	Initial  transform.State  `json:"initial"`
	Bounds   transform.Bounds `json:"bounds"`
}

func (cmd *frameCmd) Run(g *Globals) error {
	_, cfg, err := g.load()
	if err != nil {
		return err
	}

	imageSize, err := parseSize(cmd.Image)
	if err != nil {
		return err
	}
	viewport := layout.Viewport{Size: geom.Sz(cfg.Session.ViewportWidth, cfg.Session.ViewportHeight)}
	if cmd.Viewport != "" {
		if viewport.Size, err = parseSize(cmd.Viewport); err != nil {
			return err
		}
	}
	aspect := cfg.Session.AspectRatio
	if cmd.Aspect != "" {
		aspect = cmd.Aspect
	}
	ratio, err := layout.ParseAspectRatio(aspect)
	if err != nil {
		return err
	}

	frame, err := layout.ComputeCropFrame(viewport, ratio, cfg.Session.Margin)
	if err != nil {
		return err
	}
	base, err := layout.ComputeBaseDisplaySize(imageSize, viewport.Size)
	if err != nil {
		return err
	}
	minScale := transform.MinScale(base, frame.Rect.Size)
	initial := transform.Clamp(transform.Initial(minScale, cfg.InitParams()), base, frame.Rect, viewport.Size)

	return printJSON(frameReport{
		Viewport: viewport,
		Frame:    frame,
		BaseSize: base,
		MinScale: minScale,
		Initial:  initial,
		Bounds:   transform.OffsetBounds(initial.Scale, base, frame.Rect, viewport.Size),
	})
}

type initCmd struct {
	Path  string `arg:"" optional:"" help:"Where to write the file. Defaults to the user config path."`
	Force bool   `help:"Overwrite an existing file."`
}

func (cmd *initCmd) Run(g *Globals) error {
	path := cmd.Path
	if path == "" {
		path = config.GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !cmd.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
