package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mdstream/internal/application/usecase/stream"
	"mdstream/internal/infrastructure/config"
	"mdstream/internal/infrastructure/logger"
	"mdstream/internal/infrastructure/metrics"
	"mdstream/internal/infrastructure/svc"

	// 券商适配器通过 init() 注册
	_ "mdstream/internal/infrastructure/broker/fyers"
	_ "mdstream/internal/infrastructure/broker/kite"
	_ "mdstream/internal/infrastructure/broker/shoonya"
	_ "mdstream/internal/infrastructure/broker/upstox"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	g, gctx := errgroup.WithContext(ctx)
	sc.RunBridges(gctx, g)

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	streamSvc := stream.NewService(sc.BuildStreamServiceDeps())
	g.Go(func() error {
		err := streamSvc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := sc.Start(); err != nil {
		log.Error().Err(err).Msg("connect failed")
		stop()
	}

	log.Info().
		Str("config", *configPath).
		Strs("venues", sc.GetWebSocketManager().Names()).
		Int("subscriptions", len(cfg.Subscriptions)).
		Msg("mdstream started")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("mdstream exited")
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
