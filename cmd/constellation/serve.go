package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orbitalworks/constellation/internal/config"
	"github.com/orbitalworks/constellation/internal/dispatch"
	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/internal/oracle"
	"github.com/orbitalworks/constellation/internal/orchestrator"
	"github.com/orbitalworks/constellation/internal/registry"
	"github.com/orbitalworks/constellation/internal/report"
	"github.com/orbitalworks/constellation/internal/store"
	"github.com/orbitalworks/constellation/pkg/models"
)

var (
	serveFile           string
	serveRequest        string
	serveName           string
	serveListen         string
	serveMetrics        string
	serveExitOnTerminal bool
	servePlanAttempts   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	Long: `Run the constellation server: accept device connections, dispatch
ready tasks, and drive the graph to completion.

The graph comes from one of two sources:
  --file     Load an existing constellation document
  --request  Ask the planning oracle to decompose a request into a graph

With neither flag the server starts with an empty constellation and waits
for edits. When the constellation reaches a terminal state it is archived;
with --exit-on-terminal the server then shuts down and prints a report.

Examples:
  constellation serve --request "collect logs from every lab machine"
  constellation serve --file nightly.json --exit-on-terminal
  constellation serve --listen :7420 --metrics :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFile, "file", "", "Load a constellation document instead of planning one")
	serveCmd.Flags().StringVar(&serveRequest, "request", "", "Plan a new constellation from a natural-language request")
	serveCmd.Flags().StringVar(&serveName, "name", "", "Name for a newly planned constellation")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Dispatch listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics", "", "Prometheus metrics address (overrides config)")
	serveCmd.Flags().BoolVar(&serveExitOnTerminal, "exit-on-terminal", false, "Shut down once the constellation finishes")
	serveCmd.Flags().IntVar(&servePlanAttempts, "plan-attempts", 3, "Oracle planning attempts before giving up")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, levelVar := newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Log level follows config file edits without a restart.
	if watchTarget := configWatchTarget(); watchTarget != "" {
		go func() {
			err := config.Watch(ctx, watchTarget, log, func(c *config.Config) {
				levelVar.Set(parseLevel(c.Logging.Level))
			})
			if err != nil {
				log.Warn("config watch disabled", "error", err)
			}
		}()
	}

	c, err := loadOrCreateConstellation()
	if err != nil {
		return err
	}

	trace, err := openTrace(cfg.Orchestrator.TracePath)
	if err != nil {
		return err
	}
	defer trace.Close()

	metrics := orchestrator.NewMetrics(prometheus.DefaultRegisterer)
	reg := registry.New(log)

	orch, err := orchestrator.New(orchestrator.Config{
		MaxTaskRetries: cfg.Orchestrator.MaxTaskRetries,
		ExitOnTerminal: serveExitOnTerminal,
	}, c, reg, graph.DefaultPredicate(), metrics, trace, log)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	srv := dispatch.NewServer(dispatch.ServerConfig{
		SessionID:   uuid.NewString(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}, reg, orch, log)

	listenAddr := cfg.Server.ListenAddr
	if serveListen != "" {
		listenAddr = serveListen
	}
	if err := srv.Listen(listenAddr); err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	defer srv.Shutdown()
	log.Info("dispatch server listening", "addr", srv.Addr())

	metricsAddr := cfg.Server.MetricsAddr
	if serveMetrics != "" {
		metricsAddr = serveMetrics
	}
	if metricsAddr != "" {
		go serveMetricsEndpoint(ctx, metricsAddr, log)
	}

	go srv.Serve(ctx)
	go logEvents(orch, log)

	if serveRequest != "" {
		if err := planWithOracle(ctx, cfg, orch, log); err != nil {
			return err
		}
	}

	runErr := orch.Run(ctx)

	snapshot := orch.Snapshot()
	if err := archiveSnapshot(cfg, snapshot); err != nil {
		log.Warn("archiving constellation failed", "error", err)
	}
	orch.Close()
	if serveExitOnTerminal {
		fmt.Println(report.NewRenderer().Render(snapshot))
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func loadOrCreateConstellation() (*models.Constellation, error) {
	if serveFile != "" {
		c, err := models.LoadConstellationFile(serveFile)
		if err != nil {
			return nil, fmt.Errorf("loading constellation from %s: %w", serveFile, err)
		}
		return c, nil
	}
	name := serveName
	if name == "" && serveRequest != "" {
		name = serveRequest
		if len(name) > 64 {
			name = name[:64]
		}
	}
	if name == "" {
		name = "unnamed"
	}
	return models.NewConstellation(uuid.NewString(), name), nil
}

func openTrace(path string) (*orchestrator.TraceLogger, error) {
	if path == "" {
		return orchestrator.NopTraceLogger(), nil
	}
	trace, err := orchestrator.NewTraceLogger(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace log %s: %w", path, err)
	}
	return trace, nil
}

// planWithOracle asks the planning oracle for a task graph and applies it,
// feeding rejection reasons back for another attempt when an edit is
// rejected by graph validation.
func planWithOracle(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, log *slog.Logger) error {
	client, err := oracle.NewClient(oracle.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("building oracle client: %w", err)
	}
	planner := oracle.NewPlanner(client, log)

	var rejections []string
	for attempt := 1; attempt <= servePlanAttempts; attempt++ {
		proposal, err := planner.ProposeEdits(ctx, orch.Snapshot(), serveRequest, rejections)
		if err != nil {
			return fmt.Errorf("planning attempt %d: %w", attempt, err)
		}
		log.Info("oracle proposed edits",
			"attempt", attempt,
			"edits", len(proposal.Commands),
			"reasoning", proposal.Reasoning)

		outcomes, err := orch.ApplyEdits(proposal.Commands)
		if err != nil {
			return fmt.Errorf("applying oracle edits: %w", err)
		}
		rejected := false
		for _, out := range outcomes {
			if !out.Applied {
				rejected = true
				rejections = append(rejections, out.Reason)
				log.Warn("oracle edit rejected", "reason", out.Reason)
			}
		}
		if !rejected {
			return nil
		}
	}
	return fmt.Errorf("oracle produced no valid plan after %d attempts", servePlanAttempts)
}

func archiveSnapshot(cfg *config.Config, c *models.Constellation) error {
	if len(c.Tasks) == 0 {
		return nil
	}
	dbPath := cfg.Archive.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	return db.Archive(c)
}

func logEvents(orch *orchestrator.Orchestrator, log *slog.Logger) {
	for ev := range orch.Events() {
		log.Info(string(ev.Type),
			"constellation_id", ev.ConstellationID,
			"task_id", ev.TaskID,
			"device_id", ev.DeviceID,
			"state", ev.State,
			"message", ev.Message)
	}
}

func serveMetricsEndpoint(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics endpoint failed", "error", err)
	}
}

// configWatchTarget picks which config file to watch for live reloads.
func configWatchTarget() string {
	if configPath != "" {
		return configPath
	}
	p := config.GetUserConfigPath()
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
