// Package main is the entry point for the execplane agent.
// The agent runs on a remote client: it long-polls the controller for
// commands and executes the scripts it receives.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"execplane/internal/agent"
	"execplane/internal/agent/runtime"
	"execplane/internal/config"
	"execplane/internal/logger"
	"execplane/internal/observability"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: execplane.yaml in current directory)")
	metricsAddr := flag.String("metrics-addr", ":6162", "Listen address for agent metrics; empty disables")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel).With("service", "execplane-agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "execplane-agent", cfg.AgentVersion, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "docker":
		dockerRT, err := runtime.NewDockerRuntime(nil)
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		rt = dockerRT
		logg.Info("using docker runtime")
	case "kubernetes":
		k8sRT, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:      cfg.K8sNamespace,
			ServiceAccount: cfg.K8sServiceAccount,
			CPULimit:       cfg.K8sCPULimit,
			MemoryLimit:    cfg.K8sMemoryLimit,
			Logger:         logg,
		})
		if err != nil {
			log.Fatalf("Failed to create Kubernetes runtime: %v", err)
		}
		rt = k8sRT
		logg.Info("using kubernetes runtime", "namespace", cfg.K8sNamespace)
	default:
		execRT := runtime.NewExecRuntime(cfg.RuntimeWorkDir)
		rt = execRT
		logg.Info("using exec runtime", "workdir", execRT.WorkDir)
	}

	client := agent.NewClient(cfg.ControllerURL, cfg.ClientID, cfg.AgentVersion, cfg.InternalSecret)
	a := agent.New(client, rt, agent.Config{
		ClientID:    cfg.ClientID,
		Concurrency: cfg.AgentConcurrency,
		PollWait:    cfg.AgentPollWait,
		MaxBackoff:  cfg.AgentMaxBackoff,
		Logger:      logg,
	})
	go a.Run(ctx)

	// Metrics
	if *metricsAddr != "" {
		metricsHandler, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			log.Fatalf("Failed to init metrics: %v", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				logg.Error("failed to shutdown metrics", "error", err)
			}
		}()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler)
			logg.Info("agent metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logg.Error("metrics server error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down agent, draining running executions")
	cancel()

	<-a.Done()
}
