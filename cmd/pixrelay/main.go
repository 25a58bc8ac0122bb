package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/core/secret"
	"github.com/gaspardpetit/pixrelay/internal/config"
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/generation"
	"github.com/gaspardpetit/pixrelay/internal/inflight"
	"github.com/gaspardpetit/pixrelay/internal/metrics"
	"github.com/gaspardpetit/pixrelay/internal/server"
	"github.com/gaspardpetit/pixrelay/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// configPathFromArgs finds --config in args before flags are parsed so the
// file can be loaded underneath env and flag values.
func configPathFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			return args[i+1], true
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v, true
		}
		if v, ok := strings.CutPrefix(a, "-config="); ok {
			return v, true
		}
	}
	return "", false
}

func loadConfig(args []string) config.ServerConfig {
	var cfg config.ServerConfig
	// defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if p, ok := configPathFromArgs(args); ok {
		cfg.ConfigFile = p
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	return cfg
}

func probeEngine(cfg config.ServerConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := engine.New(cfg.EngineURL, engine.WithClientID(cfg.ClientID)).ObjectInfo(ctx)
	serverstate.RecordEngine(err == nil)
	if err != nil {
		logx.Log.Warn().Err(err).Str("engine", cfg.EngineURL).Msg("image engine not reachable at startup")
		return
	}
	logx.Log.Info().Str("engine", cfg.EngineURL).Msg("image engine reachable")
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	cfg := loadConfig(os.Args[1:])
	cfg.BindFlagsFromCurrent()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "pixrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("pixrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	cfg.Finalize()

	logx.Configure(cfg.LogLevel)
	// collectors are registered in server.New
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("connect redis")
		}
		defer rs.Close()
		serverstate.UseStore(rs)
		logx.Log.Info().Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("using redis state store")
	}

	svc := generation.NewService(generation.Config{
		EngineURL:   cfg.EngineURL,
		ClientID:    cfg.ClientID,
		DefaultCkpt: cfg.DefaultCkpt,
		SubmitGrace: cfg.SubmitGrace,
		Poll:        cfg.PollParams(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := server.New(cfg, svc)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// generations observe ctx, so a forced shutdown aborts their polling
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if serverstate.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			serverstate.StartDrain()
			logx.Log.Info().Int64("inflight", inflight.Generations().Load()).Msg("drain requested")
			waitCtx, stop := ctx, context.CancelFunc(func() {})
			if cfg.DrainTimeout > 0 {
				logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
				waitCtx, stop = context.WithTimeout(ctx, cfg.DrainTimeout)
			} else {
				logx.Log.Info().Msg("draining; send SIGTERM again to terminate immediately")
			}
			go func() {
				defer stop()
				if inflight.Generations().WaitForZero(waitCtx) {
					logx.Log.Info().Msg("drain complete; terminating")
					cancel()
					return
				}
				if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
					logx.Log.Warn().Int64("inflight", inflight.Generations().Load()).Msg("drain timeout exceeded; terminating")
					cancel()
				}
			}()
		}
	}()
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if cfg.APIKey != "" {
		logx.Log.Info().Str("api_key", secret.Mask(cfg.APIKey)).Msg("API key auth enabled")
	}
	probeEngine(cfg)
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	serverstate.SetState(serverstate.StatusReady)
	logx.Log.Info().Int("port", cfg.Port).Str("engine", cfg.EngineURL).Str("client_id", cfg.ClientID).Str("version", version).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-shutdownDone
}
