package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/rtc"
	wssignal "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app/ingress"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/logging"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/netutil"
)

var serveFlags struct {
	configPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server and the media pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := config.New()
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfg, err := config.Load(v, serveFlags.configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	fs := serveCmd.Flags()
	fs.StringVarP(&serveFlags.configPath, "config", "c", "", "path to a YAML config file")
	fs.Int("port", 3000, "HTTP port")
	fs.String("udp-host", "", "IPv4 address for the media socket (default: first routable)")
	fs.Int("udp-port", 0, "UDP port for the media socket (default: random)")
	fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
}

// flagKeys maps cli flags onto config keys.
var flagKeys = map[string]string{
	"port":      "http.port",
	"udp-host":  "udp.host",
	"udp-port":  "udp.port",
	"log-level": "log.level",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func listenUDP(cfg config.UDPConfig) (*net.UDPConn, error) {
	host := net.ParseIP(cfg.Host)
	if host == nil {
		ip, err := netutil.SelectHostAddress()
		if err != nil {
			return nil, err
		}
		host = ip
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: host, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("binding a UDP port: %w", err)
	}
	return conn, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	udp, err := listenUDP(cfg.UDP)
	if err != nil {
		return err
	}
	local := udp.LocalAddr().(*net.UDPAddr)
	log.Info().Str("addr", local.String()).Msg("Bound UDP port")

	factory := rtc.NewFactory(rtc.Config{
		LocalAddr:     local,
		PollInterval:  cfg.Engine.PollInterval,
		OutputQueue:   cfg.Engine.OutputQueue,
		InboxSize:     cfg.Engine.InboxSize,
		GatherTimeout: cfg.Engine.GatherTimeout,
	}, log.Logger)
	handoff := ingress.NewHandoff()
	acceptor := ingress.NewAcceptor(factory, handoff)

	pool := orch.NewCoordinator(udp, handoff, orch.Config{
		HealthInterval:     cfg.Pool.HealthInterval,
		InactiveLogAfter:   cfg.Pool.InactiveLogAfter,
		PruneInterval:      cfg.Pool.PruneInterval,
		DefaultTimeout:     cfg.Pool.DefaultTimeout,
		MinReadTimeout:     cfg.Pool.MinReadTimeout,
		MaxPollsPerSession: cfg.Pool.MaxPollsPerSession,
		ReadBuffer:         cfg.UDP.ReadBuffer,
		Policy: orch.ThresholdPolicy{
			IdleThreshold:       cfg.Pool.IdleThreshold,
			FailureThreshold:    cfg.Pool.FailureThreshold,
			MaxRecoveryAttempts: cfg.Pool.MaxRecoveryAttempts,
		},
		Session: sfu.Options{
			HighLayer:        core.Rid(cfg.Pool.HighLayer),
			KeyframeInterval: cfg.Pool.KeyframeInterval,
		},
	}, m)

	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(ctx)
	}()

	ws := wssignal.NewSignalWSController(acceptor, wssignal.Options{
		ReadLimit:         cfg.Signal.ReadLimit,
		PingPeriod:        cfg.Signal.PingPeriod,
		MessagesPerSecond: cfg.Signal.MessagesPerSecond,
		Burst:             cfg.Signal.Burst,
	})
	r := router.SetupRouter(ctx, cfg, router.Deps{
		Acceptor: acceptor,
		Stats:    pool,
		Signal:   ws,
		Gatherer: reg,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("udp", local.String()).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	var poolErr error
	select {
	case <-ctx.Done():
	case poolErr = <-poolDone:
		log.Error().Err(poolErr).Msg("pool stopped")
		cancel()
	}

	log.Info().Msg("Shutting down")
	handoff.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	_ = udp.Close()
	if poolErr == nil {
		poolErr = <-poolDone
	}
	log.Info().Msg("Server exited gracefully")
	if errors.Is(poolErr, context.Canceled) || errors.Is(poolErr, net.ErrClosed) {
		return nil
	}
	return poolErr
}
