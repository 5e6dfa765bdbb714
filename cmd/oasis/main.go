// Command oasis is a CLI entrypoint that drives one Task from an
// instruction to completion: resolve a Provider, wire a CodeRunner, MCP
// client, tool registry, guardrails, and optional persistence, then run
// and report.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	oasis "github.com/nevindra/aicode"
	"github.com/nevindra/aicode/code"
	"github.com/nevindra/aicode/internal/config"
	"github.com/nevindra/aicode/internal/guardrail"
	"github.com/nevindra/aicode/mcpclient"
	"github.com/nevindra/aicode/observer"
	"github.com/nevindra/aicode/persist/sqlite"
	"github.com/nevindra/aicode/provider"
	"github.com/nevindra/aicode/provider/resolve"
	"github.com/nevindra/aicode/tools/file"
	"github.com/nevindra/aicode/tools/fileread"
	httptool "github.com/nevindra/aicode/tools/http"
	"github.com/nevindra/aicode/tools/search"
	"github.com/nevindra/aicode/tools/shell"
	"github.com/nevindra/aicode/tools/skill"
)

func main() {
	var (
		instrFlag = flag.String("instruction", "", "instruction to run (default: read from stdin)")
		taskID    = flag.String("id", "", "task id (default: generated)")
		cfgPath   = flag.String("config", os.Getenv("AICODE_CONFIG"), "path to aicode.toml")
	)
	flag.Parse()

	cfg := config.Load(*cfgPath)

	instruction := *instrFlag
	if instruction == "" {
		var err error
		instruction, err = readInstruction(os.Stdin)
		if err != nil {
			log.Fatalf("aicode: reading instruction: %v", err)
		}
	}
	if strings.TrimSpace(instruction) == "" {
		log.Fatal("aicode: no instruction given (use -instruction or pipe one on stdin)")
	}

	id := *taskID
	if id == "" {
		id = oasis.NewID()
	}

	pool, err := buildProviderPool(cfg)
	if err != nil {
		log.Fatalf("aicode: building provider pool: %v", err)
	}
	if err := pool.Use(cfg.Task.Provider); err != nil {
		log.Fatalf("aicode: %v", err)
	}
	chatProvider := pool.Current()

	registry, err := provider.DefaultRegistry()
	if err != nil {
		log.Fatalf("aicode: loading model capability registry: %v", err)
	}

	chatProvider = provider.NewCapabilityGuard(chatProvider, registry, pool.CurrentModel())

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(context.Background(), pricing)
		if err != nil {
			log.Fatalf("aicode: observer init failed: %v", err)
		}
		defer shutdown(context.Background())
		chatProvider = observer.WrapProvider(chatProvider, pool.CurrentModel(), inst)
		log.Println("aicode: OTEL observability enabled")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	task := oasis.NewTask(id, instruction, chatProvider, nil, logger)
	task.MaxRounds = cfg.Task.MaxRounds
	task.MCPEnabled = cfg.Task.MCPEnabled

	task.WithRunner(buildRunner(cfg.Code))
	task.WithTools(buildTools(cfg))
	task.WithProcessors(buildProcessors(cfg, logger))

	if cfg.Task.MCPEnabled && len(cfg.MCPServers) > 0 {
		client := mcpclient.New(buildMCPServers(cfg.MCPServers))
		defer client.Close()
		task.WithMCP(client)
	}

	store, storeErr := buildStore(cfg.Persist)
	if storeErr != nil {
		log.Fatalf("aicode: persist init: %v", storeErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var runner interface {
		Run(context.Context) (*oasis.Step, error)
	} = task
	if inst != nil {
		runner = observer.WrapTask(task, inst)
	}

	step, runErr := runner.Run(ctx)

	if store != nil {
		if err := store.SaveTask(context.Background(), task.Snapshot()); err != nil {
			log.Printf("aicode: save task %s: %v", id, err)
		}
	}

	report(step, task)

	if runErr != nil {
		log.Fatalf("aicode: task %s ended with error: %v", id, runErr)
	}
}

func readInstruction(r io.Reader) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func buildRunner(cfg config.CodeConfig) oasis.CodeRunner {
	var opts []code.Option
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, code.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if cfg.MaxOutputBytes > 0 {
		opts = append(opts, code.WithMaxOutput(cfg.MaxOutputBytes))
	}
	if cfg.Workspace != "" {
		opts = append(opts, code.WithWorkspace(cfg.Workspace))
	}
	if cfg.EnvPassthrough {
		opts = append(opts, code.WithEnvPassthrough())
	}

	if cfg.Runtime == "http" {
		return code.NewHTTPRunner(cfg.SandboxURL, opts...)
	}
	return code.NewSubprocessRunner("python3", opts...)
}

func buildTools(cfg config.Config) *oasis.ToolRegistry {
	registry := oasis.NewToolRegistry()
	registry.Add(fileread.New())
	registry.Add(httptool.New())
	registry.Add(shell.New(cfg.Code.Workspace, cfg.Code.TimeoutSeconds))
	registry.Add(file.New(cfg.Code.Workspace))
	registry.Add(skill.New(skill.NewMemoryStore()))
	if cfg.Search.BraveAPIKey != "" {
		registry.Add(search.New(cfg.Search.BraveAPIKey))
	}
	return registry
}

func buildProcessors(cfg config.Config, logger *slog.Logger) *oasis.ProcessorChain {
	return oasis.NewProcessorChain(
		guardrail.NewToolOutputGuard(guardrail.WithLogger(logger)),
		guardrail.NewContentLengthGuard(32*1024, logger),
		guardrail.NewMaxToolCallsGuard(8),
	)
}

func buildProviderPool(cfg config.Config) (*provider.Pool, error) {
	named := make([]provider.NamedConfig, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		named[i] = provider.NamedConfig{
			Name:  pc.Name,
			Model: pc.Model,
			Config: resolve.Config{
				Provider:    pc.Provider,
				APIKey:      pc.APIKey,
				Model:       pc.Model,
				BaseURL:     pc.BaseURL,
				Temperature: pc.Temperature,
				TopP:        pc.TopP,
				Thinking:    pc.Thinking,
			},
			Default: pc.Name == cfg.Task.Provider,
		}
	}
	return provider.NewPool(named)
}

func buildMCPServers(servers []config.MCPServerConfig) []mcpclient.ServerConfig {
	out := make([]mcpclient.ServerConfig, len(servers))
	for i, s := range servers {
		out[i] = mcpclient.ServerConfig{
			Name:      s.Name,
			Transport: mcpclient.Transport(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
		}
	}
	return out
}

func buildStore(cfg config.PersistConfig) (oasis.TaskStore, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		store := sqlite.New(cfg.Path)
		if err := store.Init(context.Background()); err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return store, nil
	case "postgres":
		// Wiring a pgxpool.Pool from cfg.DSN is left to callers embedding this
		// runtime as a library; the CLI only supports sqlite out of the box.
		return nil, fmt.Errorf("postgres persistence requires constructing a pgxpool.Pool; not supported from the CLI")
	default:
		return nil, fmt.Errorf("unknown persist driver %q", cfg.Driver)
	}
}

func report(step *oasis.Step, task *oasis.Task) {
	if step == nil {
		return
	}
	if len(step.Rounds) > 0 {
		last := step.Rounds[len(step.Rounds)-1]
		fmt.Println(last.Response.Message.Message.TextContent())
	}
	summary := step.Summary()
	log.Printf("aicode: task %s state=%s rounds=%d tokens=%d elapsed=%dms",
		task.ID, task.State(), summary.Rounds, summary.TotalTokens, summary.ElapsedMS)
}
