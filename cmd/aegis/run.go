package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/approval"
	"github.com/aegis-dev/aegis/internal/budget"
	"github.com/aegis-dev/aegis/internal/config"
	"github.com/aegis-dev/aegis/internal/hooks"
	"github.com/aegis-dev/aegis/internal/mcp"
	"github.com/aegis-dev/aegis/internal/observability"
	"github.com/aegis-dev/aegis/internal/providers"
	"github.com/aegis-dev/aegis/internal/sessions"
	"github.com/aegis-dev/aegis/internal/tools"
	"github.com/aegis-dev/aegis/internal/tools/builtin"
	"github.com/aegis-dev/aegis/pkg/models"
)

func buildRunCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cfg, sessionID)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume an existing session id")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runInteractive(ctx context.Context, cfg *config.Config, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, nil); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	store, err := sessions.NewSQLiteStore(cfg.Storage.SessionDB)
	if err != nil {
		return err
	}
	defer store.Close()

	approvalStore, err := approval.NewSQLiteStore(cfg.Storage.ApprovalDB)
	if err != nil {
		return err
	}
	defer approvalStore.Close()

	pruner, err := approval.NewAuditPruner(approvalStore, cfg.Approval.Audit.PruneSchedule, cfg.Approval.Audit.Retention, logger)
	if err != nil {
		return fmt.Errorf("audit pruner: %w", err)
	}
	pruner.Start()
	defer pruner.Stop()

	stdin := &promptReader{reader: bufio.NewReader(os.Stdin)}

	var allowList approval.AllowList = approvalStore
	if cfg.Approval.AllowListFile != "" {
		memList := approval.NewMemoryAllowList()
		watcher, err := approval.NewAllowListWatcher(cfg.Approval.AllowListFile, memList, logger)
		if err != nil {
			return fmt.Errorf("allow-list file: %w", err)
		}
		defer watcher.Close()
		allowList = memList
	}

	broker := approval.NewBroker(approval.BrokerConfig{DefaultTTL: cfg.Approval.RequestTTL}, logger, metrics)
	broker.SetAuditSink(approvalStore)
	broker.SetNotifier(func(req *approval.Request) {
		go promptForDecision(stdin, broker, req)
	})
	defer broker.CancelAll()

	mgrCfg := approval.DefaultManagerConfig()
	mgrCfg.RequestTTL = cfg.Approval.RequestTTL
	manager := approval.NewManager(mgrCfg, cfg.Policy(), allowList, broker, logger)

	builtins, err := builtin.NewRegistry(logger)
	if err != nil {
		return err
	}
	custom := tools.NewRegistry(tools.SourceCustom, logger)
	bridge := mcp.NewBridge(logger)
	defer bridge.Close()
	for _, server := range cfg.MCP {
		client, err := mcp.NewStdioClient(ctx, server.Name, server.Command, server.Args...)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", server.Name, "error", err)
			continue
		}
		if err := bridge.AddServer(ctx, client); err != nil {
			logger.Warn("mcp server rejected", "server", server.Name, "error", err)
			client.Close()
		}
	}
	resolver := tools.NewResolver(builtins, custom, bridge)

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	summarizer := providers.NewLLMSummarizer(provider, cfg.LLM.Model, 1024)
	strategy, err := budget.BuildStrategy(cfg.Budget.Strategy, summarizer)
	if err != nil {
		return err
	}
	monitor := budget.NewMonitor(budget.MonitorConfig{
		MaxContextTokens: cfg.Budget.MaxContextTokens,
		ThresholdPercent: cfg.Budget.ThresholdPercent,
	}, nil, strategy, logger, metrics)

	hookReg := hooks.NewRegistry(logger)
	defer hookReg.Shutdown()

	sink := agent.EventSinkFunc(func(event *models.RuntimeEvent) {
		logger.Debug("event", "type", string(event.Type), "tool", event.ToolName, "call_id", event.ToolCallID)
	})

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		DefaultTimeout: cfg.Tools.Timeout,
		MaxConcurrent:  cfg.Tools.MaxConcurrent,
	}, resolver, hookReg, manager, sink, logger, metrics)

	runner := agent.NewRunner(agent.RunnerConfig{
		Model:         cfg.LLM.Model,
		SystemPrompt:  cfg.LLM.SystemPrompt,
		MaxIterations: cfg.LLM.MaxIterations,
		MaxTokens:     cfg.LLM.MaxTokens,
	}, provider, dispatcher, hookReg, monitor, store, sink, logger, metrics)

	if sessionID == "" {
		sessionID = uuid.New().String()
		if err := store.CreateSession(ctx, models.Session{ID: sessionID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		fmt.Println("session:", sessionID)
	}

	fmt.Println("Type a message, or /quit to exit.")
	for {
		fmt.Print("> ")
		line, err := stdin.ReadLine(ctx)
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		result, err := runner.RunTurn(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn failed:", err)
			continue
		}
		fmt.Println(result.Response)
	}
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return providers.NewOpenAIProvider(cfg.LLM.OpenAI)
	default:
		return providers.NewAnthropicProvider(cfg.LLM.Anthropic)
	}
}

// promptReader serializes stdin access between the turn prompt and
// approval prompts.
type promptReader struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func (p *promptReader) ReadLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, ctx.Err()
}

func promptForDecision(stdin *promptReader, broker *approval.Broker, req *approval.Request) {
	fmt.Printf("\napproval needed: %s %s\n", req.ToolName, req.ArgsSummary)
	if req.PatternKey != "" {
		fmt.Printf("  [y] approve  [n] deny  [a] always allow %q\n", req.PatternKey)
	} else {
		fmt.Println("  [y] approve  [n] deny")
	}
	fmt.Print("? ")

	line, err := stdin.ReadLine(context.Background())
	if err != nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		broker.Resolve(req.CallID, approval.Decision{Approved: true, DecidedBy: "cli"})
	case "a", "always":
		broker.Resolve(req.CallID, approval.Decision{Approved: true, AlwaysAllow: true, DecidedBy: "cli"})
	default:
		broker.Resolve(req.CallID, approval.Decision{Approved: false, DecidedBy: "cli"})
	}
}
