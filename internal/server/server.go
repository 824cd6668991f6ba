// Package server hosts interactive crop sessions over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/cropframe/pkg/cropper"
	"github.com/menta2k/cropframe/pkg/geom"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/session"
	"github.com/menta2k/cropframe/pkg/source"
	"github.com/menta2k/cropframe/pkg/transform"
)

var (
	errSessionNotFound = errors.New("session not found")
	errTooManySessions = errors.New("too many open sessions")
)

// Engine is what the server needs to build and finish sessions
type Engine interface {
	LoadSource(ctx context.Context, ref string) (source.ImageSource, error)
	DecodeSource(data []byte) (source.ImageSource, error)
	NewSession(src source.ImageSource, viewport layout.Viewport, aspect string) (*session.Session, error)
	AutoFocus(ctx context.Context, s *session.Session) (geom.Point, error)
	Encode(w io.Writer, img image.Image) error
	ContentType() string
}

// Config holds the server settings
type Config struct {
	Addr        string
	BodyLimit   int
	MaxSessions int
	IdleTimeout time.Duration
	OnReady     func(addr string)
}

type entry struct {
	mu      sync.Mutex
	s       *session.Session
	touched time.Time
}

// Server keeps open sessions keyed by id
type Server struct {
	engine Engine
	config Config
	app    *fiber.App

	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

// New creates a server and registers its routes
func New(engine Engine, config Config) *Server {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 256
	}
	s := &Server{
		engine:   engine,
		config:   config,
		sessions: make(map[string]*entry),
		now:      time.Now,
	}

	s.app = fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

// App exposes the fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Len returns the number of open sessions
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run listens on the configured address until ctx is done
func (s *Server) Run(ctx context.Context) error {
	s.app.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := s.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		log.Ctx(ctx).Info().Msg("Shutting down crop server...")
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown crop server")
		}
	}()

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := s.app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) routes() {
	api := s.app.Group("/api/sessions")
	api.Post("/", s.createSession)
	api.Get("/:id", s.withSession(s.getSession))
	api.Post("/:id/gestures", s.withSession(s.applyGestures))
	api.Put("/:id/viewport", s.withSession(s.setViewport))
	api.Post("/:id/focus", s.withSession(s.focus))
	api.Post("/:id/confirm", s.withSession(s.confirm))
	api.Delete("/:id", s.withSession(s.cancel))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	event := log.Ctx(c.Context()).Warn()
	if code >= http.StatusInternalServerError {
		event = log.Ctx(c.Context()).Error()
	}
	event.Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Int("status", code).
		Msg("Request failed")

	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal Server Error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func statusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, geom.ErrInvalidGeometry), errors.Is(err, transform.ErrInvalidSample):
		return http.StatusBadRequest
	case errors.Is(err, cropper.ErrDegenerateCropRegion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, errTooManySessions):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type sessionHandler func(c *fiber.Ctx, id string, sess *session.Session) error

// withSession looks the session up and holds its lock for the request
func (s *Server) withSession(h sessionHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		e, err := s.acquire(id)
		if err != nil {
			return err
		}
		defer e.mu.Unlock()
		e.touched = s.now()
		return h(c, id, e.s)
	}
}

// acquire returns the locked entry for id. An entry removed while waiting
// for its lock is reported as not found.
func (s *Server) acquire(id string) (*entry, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}

	e.mu.Lock()
	if current, ok := s.lookup(id); !ok || current != e {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	return e, nil
}

func (s *Server) lookup(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	return e, ok
}

type sessionResponse struct {
	ID       string           `json:"id"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (s *Server) createSession(c *fiber.Ctx) error {
	ctx := c.UserContext()

	viewport, err := formViewport(c)
	if err != nil {
		return err
	}

	var src source.ImageSource
	if fh, ferr := c.FormFile("image"); ferr == nil {
		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "failed to read image upload")
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(f)
		f.Close()
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "failed to read image upload")
		}
		src, err = s.engine.DecodeSource(buf.Bytes())
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	} else if ref := c.FormValue("url"); ref != "" {
		src, err = s.engine.LoadSource(ctx, ref)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	} else {
		return fiber.NewError(http.StatusBadRequest, "an image file or url is required")
	}

	sess, err := s.engine.NewSession(src, viewport, c.FormValue("aspect"))
	if err != nil {
		return err
	}

	if c.FormValue("autofocus") == "true" {
		if _, err := s.engine.AutoFocus(ctx, sess); err != nil {
			log.Ctx(c.Context()).Warn().Err(err).Msg("autofocus failed")
		}
	}

	id, err := s.register(sess)
	if err != nil {
		return err
	}
	log.Ctx(c.Context()).Info().Str("id", id).Stringer("image", src.PixelSize()).Msg("session created")

	return c.Status(http.StatusCreated).JSON(sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

func formViewport(c *fiber.Ctx) (layout.Viewport, error) {
	var values [6]float64
	names := [6]string{"width", "height", "inset_top", "inset_left", "inset_bottom", "inset_right"}
	for i, name := range names {
		raw := c.FormValue(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return layout.Viewport{}, fmt.Errorf("%w: %s=%q", geom.ErrInvalidGeometry, name, raw)
		}
		values[i] = v
	}
	return layout.Viewport{
		Size: geom.Sz(values[0], values[1]),
		SafeInsets: geom.Insets{
			Top:    values[2],
			Left:   values[3],
			Bottom: values[4],
			Right:  values[5],
		},
	}, nil
}

// register stores sess under a fresh id, evicting idle sessions first
func (s *Server) register(sess *session.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.IdleTimeout > 0 {
		cutoff := s.now().Add(-s.config.IdleTimeout)
		for id, e := range s.sessions {
			if e.mu.TryLock() {
				if e.touched.Before(cutoff) {
					if err := e.s.Cancel(); err != nil {
						log.Warn().Err(err).Str("id", id).Msg("failed to cancel idle session")
					}
					delete(s.sessions, id)
					log.Debug().Str("id", id).Msg("evicted idle session")
				}
				e.mu.Unlock()
			}
		}
	}
	if len(s.sessions) >= s.config.MaxSessions {
		return "", errTooManySessions
	}

	id := uuid.NewString()
	s.sessions[id] = &entry{s: sess, touched: s.now()}
	return id, nil
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) getSession(c *fiber.Ctx, id string, sess *session.Session) error {
	return c.JSON(sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

type gestureRequest struct {
	Samples []transform.Sample `json:"samples"`
}

type sampleResult struct {
	Dropped bool `json:"dropped,omitempty"`
	Ended   bool `json:"ended,omitempty"`
	Clamped bool `json:"clamped,omitempty"`
}

type gestureResponse struct {
	sessionResponse
	Results []sampleResult `json:"results"`
}

func (s *Server) applyGestures(c *fiber.Ctx, id string, sess *session.Session) error {
	var req gestureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	// reject the whole batch before any sample moves the session
	for i, sample := range req.Samples {
		if err := sample.Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}

	results := make([]sampleResult, 0, len(req.Samples))
	for i, sample := range req.Samples {
		r, err := sess.Apply(sample)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		results = append(results, sampleResult{Dropped: r.Dropped, Ended: r.Ended, Clamped: r.Clamped})
	}

	return c.JSON(gestureResponse{
		sessionResponse: sessionResponse{ID: id, Snapshot: sess.Snapshot()},
		Results:         results,
	})
}

func (s *Server) setViewport(c *fiber.Ctx, id string, sess *session.Session) error {
	var viewport layout.Viewport
	if err := c.BodyParser(&viewport); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := sess.SetViewport(viewport); err != nil {
		return err
	}
	return c.JSON(sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

// focus pans onto the posted normalized point, or onto the detected subject
// when the body is empty
func (s *Server) focus(c *fiber.Ctx, id string, sess *session.Session) error {
	if len(c.Body()) == 0 {
		if _, err := s.engine.AutoFocus(c.UserContext(), sess); err != nil {
			return err
		}
		return c.JSON(sessionResponse{ID: id, Snapshot: sess.Snapshot()})
	}

	var p geom.Point
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := sess.FocusOn(p); err != nil {
		return err
	}
	return c.JSON(sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

func (s *Server) confirm(c *fiber.Ctx, id string, sess *session.Session) error {
	result, err := sess.Confirm(c.UserContext())
	if err != nil {
		return err
	}
	s.remove(id)

	var buf bytes.Buffer
	if err := s.engine.Encode(&buf, result.Image); err != nil {
		return fmt.Errorf("failed to encode crop: %w", err)
	}

	c.Set("X-Crop-Region", result.Region.String())
	c.Set(fiber.HeaderContentType, s.engine.ContentType())
	log.Ctx(c.Context()).Info().Str("id", id).Str("region", result.Region.String()).Msg("session confirmed")
	return c.Send(buf.Bytes())
}

func (s *Server) cancel(c *fiber.Ctx, id string, sess *session.Session) error {
	if err := sess.Cancel(); err != nil {
		return err
	}
	s.remove(id)
	return c.SendStatus(http.StatusNoContent)
}
