package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/zeus-amfx/application"
	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/channel"
	"github.com/lk2023060901/zeus-amfx/internal/network/router"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error("amfx gateway exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run() error {
	app := application.New("amfx-gateway")
	if err := app.Run(); err != nil {
		return err
	}
	amfxCfg, err := app.AMFXConfig()
	if err != nil {
		return err
	}
	gwCfg, err := app.GatewayConfig()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	r := router.New()
	if err := registerServices(r); err != nil {
		return err
	}

	sessions := session.NewBaseSessionManager()
	ch, err := channel.New(gwCfg, r, sessions, amfx.WithConfig(amfxCfg))
	if err != nil {
		return err
	}
	defer ch.Close()

	mux := http.NewServeMux()
	mux.Handle(gwCfg.Path, ch.Handler())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              gwCfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("amfx gateway listening",
			zap.String("addr", gwCfg.Addr),
			zap.String("path", gwCfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		if gwCfg.SessionIdleTimeout <= 0 || gwCfg.SessionSweepPeriod <= 0 {
			return nil
		}
		return sessions.Run(gctx, gwCfg.SessionSweepPeriod, gwCfg.SessionIdleTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("amfx gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// registerServices 注册网关自带的诊断服务。
func registerServices(r router.Router) error {
	if err := r.Register("echo", func(_ context.Context, _ session.Session, body *amfx.MessageBody) (any, error) {
		return body.Data, nil
	}); err != nil {
		return err
	}
	if err := r.Register("ping", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return "pong", nil
	}); err != nil {
		return err
	}
	return r.Register("session.info", func(_ context.Context, sess session.Session, _ *amfx.MessageBody) (any, error) {
		info := amfx.NewObject("")
		info.Set("id", sess.ID())
		info.Set("remote", sess.RemoteAddr())
		info.Set("created", sess.CreatedAt())
		return info, nil
	})
}
