package main

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chenhunghan/oxpilot/internal/api"
	"github.com/chenhunghan/oxpilot/internal/logger"
)

type serveOptions struct {
	host         string
	port         int64
	modelName    string
	doneSentinel bool
	rateLimit    float64
	burst        int64
	keepAlive    time.Duration
	readTimeout  time.Duration
}

func serveCmd(o *options) *cli.Command {
	var so serveOptions

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve OpenAI-compatible streaming completions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Usage:       "listen host",
				Value:       "0.0.0.0",
				Destination: &so.host,
			},
			&cli.Int64Flag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "listen port",
				Value:       9090,
				Destination: &so.port,
			},
			&cli.StringFlag{
				Name:        "model-name",
				Usage:       "model id advertised by /v1/models",
				Destination: &so.modelName,
			},
			&cli.BoolFlag{
				Name:        "done-sentinel",
				Usage:       "end streams with data: [DONE]",
				Destination: &so.doneSentinel,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "admitted completion requests per second (0 = unlimited)",
				Destination: &so.rateLimit,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "rate limiter burst size",
				Value:       4,
				Destination: &so.burst,
			},
			&cli.DurationFlag{
				Name:        "keep-alive",
				Usage:       "idle interval between SSE keep-alive comments",
				Value:       api.DefaultKeepAlive,
				Destination: &so.keepAlive,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "request header read timeout",
				Value:       30 * time.Second,
				Destination: &so.readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := o.prepare(ctx, cmd)
			if err != nil {
				return exitError(err)
			}
			so.apply(cmd, cfg)
			log := logger.FromContext(ctx)

			eng, err := o.newEngine(ctx)
			if err != nil {
				return exitError(err)
			}
			modelName := so.modelName
			if modelName == "" {
				modelName = o.modelFile
			}
			server := api.NewServer(eng, api.Config{
				ModelName:    modelName,
				Defaults:     eng.config,
				DoneSentinel: so.doneSentinel,
				KeepAlive:    so.keepAlive,
				RateLimit:    so.rateLimit,
				Burst:        int(so.burst),
				Logger:       log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			addr := net.JoinHostPort(so.host, strconv.FormatInt(so.port, 10))
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return eng.Run(gctx)
			})
			g.Go(func() error {
				// The actor outlives the listener so queued requests finish.
				defer eng.Close()
				log.Info("starting server", "address", addr, "model", modelName)
				sc := echo.StartConfig{
					Address:         addr,
					HideBanner:      true,
					GracefulTimeout: eng.config.RequestTimeout,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = so.readTimeout
						return nil
					},
				}
				return sc.Start(gctx, e)
			})
			return exitError(g.Wait())
		},
	}
}
