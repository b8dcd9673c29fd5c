package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplexus/voiceagent/agent"
	"github.com/agentplexus/voiceagent/dashboard"
	"github.com/agentplexus/voiceagent/internal/config"
	"github.com/agentplexus/voiceagent/security"
	"github.com/agentplexus/voiceagent/sip"
	"github.com/agentplexus/voiceagent/store"
	"github.com/agentplexus/voiceagent/supervisor"
)

const shutdownGrace = 5 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: SIP trunk, realtime AI bridge, and dashboard",
		Run:   runServe,
	}
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	registry := agent.NewRegistry()
	gate := security.New(cfg.UnlockCode, st)
	registry.Register(gate.Descriptor())
	registry.Register(agent.NewMainAgentDescriptor(registry))

	hub := dashboard.New(log)
	sup := supervisor.New(cfg, registry, gate, st, hub, log)

	adapter, err := sip.New(
		sip.WithPublicIP(cfg.PublicIP),
		sip.WithSTUNServers(cfg.STUNServers),
		sip.WithMediaPortRange(cfg.MediaPortMin, cfg.MediaPortMax),
		sip.WithCredentials(cfg.SIPUser, cfg.SIPPassword, cfg.SIPServer, cfg.SIPPort),
		sip.WithLogger(log),
	)
	if err != nil {
		exitErr("create sip adapter", err)
	}
	adapter.OnIncoming(sup.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := dashboard.NewRESTServer(st, registry, hub)
	httpSrv := &http.Server{Addr: cfg.DashboardAddr, Handler: rest.Router()}

	errc := make(chan error, 2)

	go func() {
		errc <- adapter.ListenAndServe(ctx, fmt.Sprintf("0.0.0.0:%d", cfg.SIPPort))
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()
	go sup.Run(ctx, adapter)

	log.WithFields(map[string]any{
		"dashboard_addr": cfg.DashboardAddr,
		"sip_server":     cfg.SIPServer,
	}).Info("voiceagentd started")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			log.WithError(err).Error("fatal server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = adapter.Close()
}
