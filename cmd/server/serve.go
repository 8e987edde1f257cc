package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/cron"
	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/handler"
	"github.com/iliyamo/training-seat-pools/internal/queue"
	"github.com/iliyamo/training-seat-pools/internal/router"
	"github.com/iliyamo/training-seat-pools/internal/service"
)

var (
	serveMigrate bool
	serveDigest  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the resync schedule and the event publisher",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply migrations before serving")
	serveCmd.Flags().BoolVar(&serveDigest, "digest", false, "also run the seat event digest consumer")
}

func runServe(c *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.cfg.RequireJWT(); err != nil {
		return err
	}
	if serveMigrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}
	logger := a.logger

	var subs []engine.Subscriber
	if a.cfg.AMQP.URL != "" {
		pub := service.NewEventPublisher(a.cfg.AMQP.URL, a.cfg.AMQP.Queue, logger)
		defer pub.Close()
		subs = append(subs, pub)
	} else {
		logger.Info("RABBITMQ_URL not set, events are only stored")
	}
	eng := a.engine(subs...)
	resync := engine.NewResyncer(eng)

	rdb := config.NewRedisClient(ctx, a.cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable, caching and rate limiting disabled", zap.String("addr", a.cfg.Redis.Address()))
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger.Named("http")))
	router.Register(e, handler.NewSeatPoolHandler(eng, resync, logger), router.Deps{
		Config: a.cfg,
		DB:     a.db,
		Redis:  rdb,
		Logger: logger,
	})

	sched := cron.NewScheduler(logger)
	if spec := a.cfg.Engine.ResyncSchedule; spec != "" {
		if _, err := sched.AddJob(ctx, "resync", spec, func(ctx context.Context) error {
			_, err := resync.Run(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule resync: %w", err)
		}
		logger.Info("resync scheduled", zap.String("schedule", spec))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + a.cfg.Port
		logger.Info("listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Shutdown()
		return nil
	})
	if serveDigest && a.cfg.AMQP.URL != "" {
		consumer := queue.NewDigestConsumer(a.cfg.AMQP.URL, a.cfg.AMQP.Queue, a.cfg.AMQP.DigestLog, logger)
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
