// Command agent runs the redefinition core as a standalone process: it
// watches one or more class-file directories, extracts and validates
// changed class artifacts, and drives them through the redefinition
// coordinator against a VM primitive.
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

	"github.com/spf13/cobra"

	"github.com/redefinecore/agent/internal/classfile"
	"github.com/redefinecore/agent/internal/config"
	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/pipeline"
	"github.com/redefinecore/agent/internal/reconcile"
	"github.com/redefinecore/agent/internal/redefine"
	"github.com/redefinecore/agent/internal/rollback"
	"github.com/redefinecore/agent/internal/validate"
	"github.com/redefinecore/agent/internal/vmfake"
	"github.com/redefinecore/agent/internal/watch"
	"github.com/redefinecore/agent/pkg/logger"
	"github.com/redefinecore/agent/pkg/metrics"
)

const serviceName = "redefinecore-agent"

var configPath string

// sinkSubscriber adapts a ports.EventSink to eventbus.Subscriber so every
// published event is also delivered to an external/logging destination.
type sinkSubscriber struct {
	sink *vmfake.LogSink
	log  *slog.Logger
}

// Handle implements eventbus.Subscriber.
func (s sinkSubscriber) Handle(ctx context.Context, evt event.Event) {
	if err := s.sink.Accept(ctx, evt); err != nil {
		s.log.Warn("event sink rejected event", "error", err, "type", evt.Type)
	}
}

func main() {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Runtime class-redefinition agent",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the config file without starting the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d watch director(ies), reconciler strategy %q\n", len(cfg.Watch.Directories), cfg.Reconciler.DefaultStrategy)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent and block until an interrupt signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     logOutput(cfg.Log.Filename),
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)
	log.Info("starting", "service", serviceName, "watch_directories", cfg.Watch.Directories)

	reg := metrics.New()

	bus := eventbus.New(eventbus.NewMetrics(reg.Registerer()), eventbus.WithLogger(log))
	pipelineMetrics := pipeline.NewMetrics(reg.Registerer())
	coordinatorMetrics := redefine.NewMetrics(reg.Registerer())

	vm := vmfake.New()
	classes := model.NewRegistry()
	sink := vmfake.NewLogSink(log)
	sinkSubID, err := bus.Subscribe(sinkSubscriber{sink: sink, log: log})
	if err != nil {
		return fmt.Errorf("agent: subscribe event sink: %w", err)
	}
	defer bus.Unsubscribe(sinkSubID)

	extractor := classfile.NewExtractor(cfg.Metadata.CacheMaxEntries, cfg.Metadata.CacheTTL, cfg.Metadata.MaxArtifactSize)
	classfileComp, err := classfile.NewComponent(bus, extractor, log, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("agent: wire metadata extractor: %w", err)
	}
	defer classfileComp.Stop()

	validateComp, err := validate.NewComponent(bus, classes, log, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("agent: wire compatibility validator: %w", err)
	}
	defer validateComp.Stop()

	reconciler := reconcile.New(vm, vm, nil, nil)
	bytecodeStrategy := rollback.ParseConflictStrategy(cfg.Rollback.BytecodeConflict, rollback.DefaultBytecodeStrategy)
	instanceStrategy := rollback.ParseConflictStrategy(cfg.Rollback.InstanceConflict, rollback.DefaultInstanceStrategy)
	rollbackMgr := rollback.New(vm, classes, reconciler, vm, bytecodeStrategy, instanceStrategy, bus, log)

	coordCfg := redefine.Config{
		AttemptDeadline:         cfg.Coordinator.AttemptDeadline,
		Concurrency:             concurrencyPolicy(cfg.Coordinator.CoalescePending),
		QueueCapacity:           cfg.Coordinator.QueueCapacity,
		ChainMaxLength:          cfg.Snapshot.ChainMaxLength,
		DefaultStrategy:         cfg.Reconciler.DefaultStrategy,
		RollbackOnInternalError: true,
	}
	coordinator, err := redefine.NewComponent(coordCfg, bus, vm, classes, reconciler, rollbackMgr, vm, log, pipelineMetrics, coordinatorMetrics)
	if err != nil {
		return fmt.Errorf("agent: wire redefinition coordinator: %w", err)
	}
	defer coordinator.Stop()

	watcher, err := watch.NewFsnotifyWatcher(log)
	if err != nil {
		return fmt.Errorf("agent: create filesystem watcher: %w", err)
	}
	defer watcher.Close()

	session := watch.New("primary", watcher, bus, watch.Config{
		DebounceWindow:          cfg.Watch.DebounceWindow,
		BurstThreshold:          cfg.Watch.BurstThreshold,
		PausedQueueCapacity:     1024,
		MeaningfulByteThreshold: cfg.Watch.MinNotifySize,
		RingCapacity:            cfg.Watch.RingCapacity,
	}, log)
	defer session.Terminate()

	for _, dir := range cfg.Watch.Directories {
		if err := session.Register(dir, "*.class", cfg.Watch.Recursive); err != nil {
			return fmt.Errorf("agent: register watch directory %s: %w", dir, err)
		}
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, reg.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info("metrics server starting", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server forced shutdown", "error", err)
		}
	}
	bus.Stop()
	log.Info("exited")
	return nil
}

func concurrencyPolicy(coalesce bool) redefine.ConcurrencyPolicy {
	if coalesce {
		return redefine.Coalesce
	}
	return redefine.RejectInProgress
}

func logOutput(filename string) string {
	if filename != "" {
		return "file"
	}
	return "stdout"
}
