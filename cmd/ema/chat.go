package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/emachat/ema/internal/actor"
	"github.com/emachat/ema/internal/agent"
	"github.com/emachat/ema/internal/config"
	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/internal/llm/providers"
	"github.com/emachat/ema/internal/memory"
	"github.com/emachat/ema/internal/observability"
	"github.com/emachat/ema/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an actor on stdin",
		Long: `Start an interactive loop against the configured actor.

Each line is delivered as user input; the actor's structured replies
and plain messages are printed as they arrive. Sending a line while a
run is in flight preempts it. Exit with /quit or Ctrl-D.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runChat(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	worker := actor.NewWorker(client, store, actor.Config{
		Identity:     models.Identity{UserID: 1, ActorID: 1},
		Name:         cfg.Actor.Name,
		UserName:     cfg.Actor.UserName,
		SystemPrompt: cfg.Actor.SystemPrompt,
		Agent: agent.Config{
			MaxSteps:   cfg.Actor.MaxSteps,
			TokenLimit: cfg.Actor.TokenLimit,
			MaxTokens:  cfg.LLM.MaxTokens,
			Logger:     logger,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	defer worker.Close()

	worker.Subscribe(printSnapshot)

	fmt.Printf("Chatting with %s (%s/%s). /quit to exit.\n",
		cfg.Actor.Name, cfg.LLM.Provider, cfg.LLM.Model)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := worker.Work([]models.Content{models.TextContent(line)}); err != nil {
				logger.Error("input rejected", "error", err)
			}
		}
	}
}

func buildStore(cfg config.Config) (memory.Store, error) {
	if cfg.Storage.Path == "" {
		return memory.NewMemoryStore(), nil
	}
	store, err := memory.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildClient(cfg config.Config, logger *slog.Logger) (llm.Client, error) {
	var inner llm.Client
	switch cfg.LLM.Provider {
	case "stub":
		return llm.NewStubClient(), nil
	case "openai":
		key, err := cfg.LLM.APIKey()
		if err != nil {
			return nil, err
		}
		opts := []providers.OpenAIOption{providers.WithOpenAILogger(logger)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, providers.WithOpenAIBaseURL(cfg.LLM.BaseURL))
		}
		inner = providers.NewOpenAIClient(key, cfg.LLM.Model, opts...)
	case "anthropic":
		key, err := cfg.LLM.APIKey()
		if err != nil {
			return nil, err
		}
		opts := []providers.AnthropicOption{providers.WithAnthropicLogger(logger)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.LLM.BaseURL))
		}
		inner = providers.NewAnthropicClient(key, cfg.LLM.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	return llm.NewRetryingClient(inner, cfg.LLM.Retry.RetryConfig(), logger), nil
}

func printSnapshot(snapshot models.ActorSnapshot) {
	for _, ev := range snapshot.Events {
		switch ev.Type {
		case string(models.ActorEventMessage):
			if text, ok := ev.Content.(string); ok {
				fmt.Printf("[message] %s\n", text)
			}
		case string(models.AgentEventEmaReply):
			if reply, ok := ev.Content.(actor.ReplyContent); ok && reply.Reply != nil {
				fmt.Printf("%s (%s, %s)\n", reply.Reply.Response, reply.Reply.Expression, reply.Reply.Action)
			}
		case string(models.AgentEventRunFinished):
			if run, ok := ev.Content.(*models.RunFinishedPayload); ok && !run.OK {
				fmt.Printf("[run failed] %s\n", run.Msg)
			}
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
