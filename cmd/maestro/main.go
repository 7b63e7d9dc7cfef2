// Maestro orchestrator server: routes user queries to registered agents
// through rule- and AI-assisted selection, policy evaluation, resilient
// execution, and response validation.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maestroproj/maestro/pkg/agent"
	"github.com/maestroproj/maestro/pkg/api"
	"github.com/maestroproj/maestro/pkg/audit"
	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/execution"
	"github.com/maestroproj/maestro/pkg/metrics"
	"github.com/maestroproj/maestro/pkg/orchestrator"
	"github.com/maestroproj/maestro/pkg/policy"
	"github.com/maestroproj/maestro/pkg/reasoning"
	"github.com/maestroproj/maestro/pkg/registry"
	"github.com/maestroproj/maestro/pkg/rules"
	"github.com/maestroproj/maestro/pkg/validation"
	"github.com/maestroproj/maestro/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Maestro",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	settings := cfg.Settings

	// 2. Audit writer (background queue; started before anything can fail a request)
	auditWriter, err := audit.NewWriter(settings.Audit)
	if err != nil {
		slog.Error("Failed to initialize audit writer", "error", err)
		os.Exit(1)
	}

	// 3. Agent registry: one HTTP agent per configured descriptor
	agents := registry.New(settings.Breaker)
	for name, desc := range cfg.Agents {
		impl := agent.NewHTTPAgent(name, desc.Capabilities, desc.Endpoint)
		if err := agents.Register(impl, desc); err != nil {
			slog.Error("Failed to register agent", "agent", name, "error", err)
			os.Exit(1)
		}
	}

	// 4. Selection: rule engine + reasoning client + hybrid policy
	ruleEngine, err := rules.NewEngine(cfg.Rules)
	if err != nil {
		slog.Error("Failed to compile rules", "error", err)
		os.Exit(1)
	}
	reasoningClient := reasoning.NewHTTPClient(settings.Reasoning)
	if !reasoningClient.Available() {
		slog.Warn("No reasoning provider configured; selection degrades to rule-only")
	}
	reasoner := reasoning.NewHybridReasoner(settings, ruleEngine, reasoningClient, agents)

	// 5. Policy: classifier, history, evaluator chain
	classifier, err := policy.NewClassifier(settings.Categories)
	if err != nil {
		slog.Error("Failed to build category classifier", "error", err)
		os.Exit(1)
	}
	history := policy.NewHistory(settings.History)
	policies, err := policy.NewRegistry(cfg.Evaluators, history, nil)
	if err != nil {
		slog.Error("Failed to build policy evaluators", "error", err)
		os.Exit(1)
	}

	// 6. Execution and validation
	engine := execution.NewEngine(agents,
		execution.PolicyFromConfig(settings.Retry),
		settings.DefaultTimeout.Std(),
		settings.MaxParallelAgents)
	validator := validation.New(cfg.Schemas, agents, reasoningClient,
		settings.ValidationConfidenceThreshold)

	// 7. Metrics and pipeline
	m := metrics.New(func() float64 { return float64(auditWriter.Dropped()) })
	orch := orchestrator.New(orchestrator.Deps{
		Settings:   settings,
		Classifier: classifier,
		History:    history,
		Policies:   policies,
		Reasoner:   reasoner,
		Engine:     engine,
		Validator:  validator,
		Audit:      auditWriter,
		Metrics:    m,
	})

	// Periodic history eviction
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if removed := history.Sweep(); removed > 0 {
					slog.Debug("Action history sweep complete", "removed", removed)
				}
			}
		}
	}()

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(settings, orch, agents, m, reasoningClient.Available())
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Maestro started successfully",
		"agents", stats.Agents,
		"rules", stats.Rules,
		"evaluators", stats.Evaluators,
		"schemas", stats.Schemas)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then drain the audit queue
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := auditWriter.Close(shutdownCtx); err != nil {
		slog.Warn("Audit queue drain incomplete", "error", err)
	}
	slog.Info("Maestro stopped")
}
