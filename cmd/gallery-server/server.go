package main

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/cache"
	"github.com/Sternrassler/artic-gallery/pkg/collection"
	"github.com/Sternrassler/artic-gallery/pkg/config"
	"github.com/Sternrassler/artic-gallery/pkg/fetcher"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/logging"
	"github.com/Sternrassler/artic-gallery/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// server owns the current gallery session and exposes it over HTTP.
type server struct {
	cfg    config.Config
	deps   gallery.Deps
	redis  *redis.Client
	logger zerolog.Logger

	mu      sync.RWMutex
	session *gallery.Session
}

// galleryResponse is the JSON view of a session.
type galleryResponse struct {
	SessionID   string              `json:"session_id"`
	Phase       string              `json:"phase"`
	IsLoading   bool                `json:"is_loading"`
	CanLoadMore bool                `json:"can_load_more"`
	NextOffset  int                 `json:"next_offset"`
	NextPage    int                 `json:"next_page"`
	Error       string              `json:"error,omitempty"`
	Started     *bool               `json:"started,omitempty"`
	Count       int                 `json:"count"`
	Records     []collection.Record `json:"records"`
	Cache       cache.State         `json:"cache"`
}

func newServer(cfg config.Config, deps gallery.Deps, redisClient *redis.Client) (*server, error) {
	s := &server{
		cfg:    cfg,
		deps:   deps,
		redis:  redisClient,
		logger: logging.NewLogger("server"),
	}

	session, err := gallery.NewSession(cfg, deps)
	if err != nil {
		return nil, err
	}
	s.session = session

	return s, nil
}

// newApp builds the fiber app with every route registered.
func newApp(s *server) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "artic-gallery",
		CaseSensitive:         true,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(func(c *fiber.Ctx) error {
		if c.Path() == "/health" || c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		s.logger.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
		return err
	})

	app.Get("/health", s.handleHealth)
	app.Get("/ready", s.handleReady)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g := app.Group("/gallery")
	g.Get("/", s.handleState)
	g.Post("/load", s.handleLoad)
	g.Post("/scroll/:index", s.handleScroll)
	g.Get("/images/:index", s.handleImage)
	g.Post("/reset", s.handleReset)

	return app
}

func (s *server) current() *gallery.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// reset ends the current session and starts a fresh one.
func (s *server) reset() (*gallery.Session, error) {
	next, err := gallery.NewSession(s.cfg, s.deps)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.session
	s.session = next
	s.mu.Unlock()

	if prev != nil {
		prev.End()
	}
	return next, nil
}

// close ends the current session.
func (s *server) close() {
	if session := s.current(); session != nil {
		session.End()
	}
}

func (s *server) handleHealth(c *fiber.Ctx) error {
	return c.SendString("OK")
}

func (s *server) handleReady(c *fiber.Ctx) error {
	if s.redis == nil {
		return c.SendString("OK")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		return c.Status(fiber.StatusServiceUnavailable).SendString("Redis unavailable")
	}
	return c.SendString("OK")
}

func (s *server) handleState(c *fiber.Ctx) error {
	session := s.current()
	if err := s.maybeWait(c, session); err != nil {
		return err
	}
	return c.JSON(view(session, nil))
}

func (s *server) handleLoad(c *fiber.Ctx) error {
	session := s.current()

	started, err := session.Start(c.UserContext())
	if err != nil {
		return sessionError(err)
	}
	if err := s.maybeWait(c, session); err != nil {
		return err
	}
	return c.JSON(view(session, &started))
}

func (s *server) handleScroll(c *fiber.Ctx) error {
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	session := s.current()

	started, err := session.ScrollNear(c.UserContext(), index)
	if err != nil {
		return sessionError(err)
	}
	if err := s.maybeWait(c, session); err != nil {
		return err
	}
	return c.JSON(view(session, &started))
}

func (s *server) handleImage(c *fiber.Ctx) error {
	index, err := indexParam(c)
	if err != nil {
		return err
	}

	img, err := s.current().Image(c.UserContext(), index)
	if err != nil {
		return sessionError(err)
	}

	c.Set(fiber.HeaderContentType, img.ContentType)
	c.Set("X-Image-Width", strconv.Itoa(img.Width()))
	c.Set("X-Image-Height", strconv.Itoa(img.Height()))
	return c.Send(img.Data)
}

func (s *server) handleReset(c *fiber.Ctx) error {
	session, err := s.reset()
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view(session, nil))
}

// maybeWait blocks until the session settles when ?wait=true.
func (s *server) maybeWait(c *fiber.Ctx, session *gallery.Session) error {
	if !c.QueryBool("wait") {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.API.Timeout)
	defer cancel()

	if err := session.Wait(ctx); err != nil {
		return fiber.NewError(fiber.StatusGatewayTimeout, "page request still outstanding")
	}
	return nil
}

func (s *server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	event := s.logger.Warn()
	if code >= fiber.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", code).
		Msg("Request failed")

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func indexParam(c *fiber.Ctx) (int, error) {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "index must be an integer")
	}
	return index, nil
}

// sessionError maps gallery errors to HTTP status codes.
func sessionError(err error) error {
	switch {
	case errors.Is(err, gallery.ErrIndexOutOfRange), errors.Is(err, collection.ErrMissingResource):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, gallery.ErrSessionEnded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, fetcher.ErrUnavailable):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	default:
		return err
	}
}

func view(session *gallery.Session, started *bool) galleryResponse {
	state := session.State()

	resp := galleryResponse{
		SessionID:   session.ID(),
		Phase:       state.Phase.String(),
		IsLoading:   state.IsLoading,
		CanLoadMore: state.CanLoadMore,
		NextOffset:  state.NextOffset,
		NextPage:    state.NextPage,
		Started:     started,
		Count:       len(state.Records),
		Records:     state.Records,
		Cache:       session.CacheStats(),
	}
	if resp.Records == nil {
		resp.Records = []collection.Record{}
	}
	if state.LastError != nil {
		resp.Error = state.LastError.Error()
	}
	return resp
}
