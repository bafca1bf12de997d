package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/logger"
)

const DefaultKeepAlive = 15 * time.Second

// Prompter submits prompts to the model actor. *dispatch.Dispatcher
// satisfies it.
type Prompter interface {
	Prompt(ctx context.Context, req dispatch.Request) (<-chan dispatch.Fragment, error)
	QueueDepth() int
}

type Config struct {
	// ModelName is advertised by /v1/models.
	ModelName string
	Defaults  inference.GenerationConfig
	// DoneSentinel appends "data: [DONE]" after a completed stream.
	DoneSentinel bool
	KeepAlive    time.Duration
	// RateLimit is the admitted completion requests per second; zero disables it.
	RateLimit float64
	Burst     int
	Logger    logger.Logger
}

type Server struct {
	engine  Prompter
	cfg     Config
	log     logger.Logger
	clock   func() time.Time
	metrics http.Handler
}

func NewServer(engine Prompter, cfg Config) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModel
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		engine:  engine,
		cfg:     cfg,
		log:     log.With("component", "api"),
		clock:   time.Now,
		metrics: promhttp.Handler(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	var mw []echo.MiddlewareFunc
	if s.cfg.RateLimit > 0 {
		mw = append(mw, RateLimit(rate.Limit(s.cfg.RateLimit), s.cfg.Burst))
	}

	// Completions API (OpenAI-compatible, always streamed)
	e.POST("/v1/completions", s.handleCompletions, mw...)
	e.POST("/v1/engines/:engine/completions", s.handleCompletions, mw...)

	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.engine.QueueDepth(),
	})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []Model{{
			ID:      s.cfg.ModelName,
			Object:  "model",
			Created: s.clock().Unix(),
			OwnedBy: "local",
		}},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		if err == io.EOF {
			return out, newInvalidRequest("request body is empty")
		}
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}
