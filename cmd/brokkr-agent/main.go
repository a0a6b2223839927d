// Command brokkr-agent runs inside one target Kubernetes cluster and
// pulls its desired state from the broker: it polls for pending
// deployment objects and applies them, claims and executes work orders,
// and delivers label-matched webhooks (spec.md §4.5). Grounded on the
// teacher's cmd/probe/main.go (standalone agent binary: load config from
// env, build a signal-aware context, block on the agent's run loop) but
// generalized from a WebSocket-connected probe to the pull-only agent in
// internal/agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/colliery-io/brokkr/internal/agent"
	"github.com/colliery-io/brokkr/internal/agent/apply"
	"github.com/colliery-io/brokkr/internal/agent/build"
	"github.com/colliery-io/brokkr/internal/agentclient"
	"github.com/colliery-io/brokkr/internal/config"
	"github.com/colliery-io/brokkr/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	buildGVR    = schema.GroupVersionResource{Group: "shipwright.io", Version: "v1beta1", Resource: "builds"}
	buildRunGVR = schema.GroupVersionResource{Group: "shipwright.io", Version: "v1beta1", Resource: "buildruns"}
)

func main() {
	configPath := os.Getenv("BROKKR_CONFIG_FILE")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Agent.BrokerURL == "" || cfg.Agent.PAK == "" {
		logger.Fatal("agent.broker_url and agent.pak are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.SamplingRatio)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	kubeCfg, err := loadKubeConfig(cfg.Agent.KubeconfigPath)
	if err != nil {
		logger.Fatal("load kubeconfig", zap.Error(err))
	}

	dynClient, err := dynamic.NewForConfig(kubeCfg)
	if err != nil {
		logger.Fatal("build dynamic client", zap.Error(err))
	}
	discClient, err := discovery.NewDiscoveryClientForConfig(kubeCfg)
	if err != nil {
		logger.Fatal("build discovery client", zap.Error(err))
	}

	applyClient := apply.NewClient(dynClient, discClient)
	broker := agentclient.New(agentclient.Config{
		BrokerURL: cfg.Agent.BrokerURL,
		PAK:       cfg.Agent.PAK,
	})

	buildHandler := build.NewHandler(applyClient, dynClient, build.Config{
		BuildGVR:    buildGVR,
		BuildRunGVR: buildRunGVR,
	})

	a := agent.New(agent.Config{
		AgentID:      cfg.Agent.AgentName,
		PollInterval: time.Duration(cfg.Agent.PollingIntervalSec) * time.Second,
		WorkTypes:    []string{"build"},
	}, broker, applyClient, logger)

	a.RegisterHandler("build", func(ctx context.Context, yamlContent []byte) (bool, string) {
		result := buildHandler.Handle(ctx, yamlContent)
		if result.Success {
			return true, fmt.Sprintf("image: %s", result.ImageDigest)
		}
		return false, result.ErrorDetail
	})

	logger.Info("starting brokkr-agent",
		zap.String("agent_name", cfg.Agent.AgentName),
		zap.String("cluster_name", cfg.Agent.ClusterName),
		zap.String("version", version),
	)

	if err := a.Run(ctx); err != nil {
		logger.Fatal("agent run loop exited with error", zap.Error(err))
	}
	logger.Info("brokkr-agent stopped")
}

// loadKubeConfig resolves the target cluster's client-go REST config: an
// explicit kubeconfig path if given, else the in-cluster service account,
// else the file named by $KUBECONFIG, else $HOME/.kube/config.
func loadKubeConfig(path string) (*rest.Config, error) {
	if path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		kubeconfig = home + "/.kube/config"
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
