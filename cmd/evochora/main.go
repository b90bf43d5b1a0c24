// Command evochora boots the full server-side pipeline (engine, queue,
// persistence, indexer, manager) from a YAML config and hands control to
// the operator CLI, matching the teacher's test/testbench entrypoints'
// build-wire-run shape (test/testbench/axpy/main.go).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tebeka/atexit"

	"github.com/evochora/evochora/cli"
	"github.com/evochora/evochora/config"
	"github.com/evochora/evochora/engine"
	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/indexer"
	"github.com/evochora/evochora/manager"
	"github.com/evochora/evochora/organism"
	"github.com/evochora/evochora/persistence"
	"github.com/evochora/evochora/queue"
	"github.com/evochora/evochora/store"
)

func main() {
	level := slog.LevelInfo
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	atexit.Register(func() { logger.Info("evochora: shutdown complete") })

	if err := run(logger); err != nil {
		logger.Error("evochora: fatal", "error", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func run(logger *slog.Logger) error {
	cfgPath := os.Getenv("EVOCHORA_CONFIG")
	b := config.NewBuilder()
	if cfgPath != "" {
		var err error
		b, err = b.WithFile(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	cfg := b.Build()

	e, err := env.Builder{}.
		WithShape(cfg.World.Shape).
		WithToroidal(cfg.World.Toroidal).
		Build()
	if err != nil {
		return fmt.Errorf("building environment: %w", err)
	}

	q := queue.NewBuilder().WithBudgetBytes(cfg.Queue.BudgetBytes).Build()

	banks := organism.BankSizes{
		DR: cfg.RegisterBanks.DR, PR: cfg.RegisterBanks.PR,
		FPR: cfg.RegisterBanks.FPR, LR: cfg.RegisterBanks.LR,
	}

	eng, err := engine.NewBuilder().
		WithEnvironment(e).
		WithQueue(q).
		WithSeed(cfg.World.Seed).
		WithRegisterBanks(banks).
		WithEnergyDistributors(engine.NewUniformEnergySource(4, 100)).
		Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	rawWriter, err := store.OpenWriter(cfg.Persistence.DatabasePath, cfg.Persistence.Table, store.DefaultTuning())
	if err != nil {
		return fmt.Errorf("opening raw store: %w", err)
	}
	defer rawWriter.Close()

	persist, err := persistence.NewBuilder().
		WithQueue(q).
		WithWriter(rawWriter).
		WithBatchSize(cfg.Persistence.BatchSize).
		WithFlushTimeout(cfg.Persistence.FlushTimeout).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("building persistence: %w", err)
	}

	rawReader, err := store.OpenReader(cfg.Persistence.DatabasePath, cfg.Persistence.Table, store.DefaultTuning())
	if err != nil {
		return fmt.Errorf("opening raw reader: %w", err)
	}
	defer rawReader.Close()

	preparedWriter, err := store.OpenWriter(cfg.Indexer.DatabasePath, cfg.Indexer.Table, store.DefaultTuning())
	if err != nil {
		return fmt.Errorf("opening prepared store: %w", err)
	}
	defer preparedWriter.Close()

	ctx := context.Background()
	idx, err := indexer.NewBuilder().
		WithReader(rawReader).
		WithWriter(preparedWriter).
		WithBatchSize(cfg.Indexer.BatchSize).
		WithPolicy(indexer.Policy{
			HaltOnTransformError: cfg.Indexer.HaltOnTransformError,
			ParallelProcessing:   cfg.Indexer.ParallelProcessing,
			WorkerCount:          cfg.Indexer.WorkerCount,
		}).
		WithLogger(logger).
		Build(ctx)
	if err != nil {
		return fmt.Errorf("building indexer: %w", err)
	}

	mgr := manager.New(
		manager.Named{Name: "engine", Service: eng},
		manager.Named{Name: "persistence", Service: persist},
		manager.Named{Name: "indexer", Service: idx},
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mgr.StartAll(runCtx)

	go func() {
		for err := range mgr.Errors() {
			logger.Error("evochora: service error", "error", err)
		}
	}()

	if cfg.Status.ListenAddr != "" {
		srv := &http.Server{Addr: cfg.Status.ListenAddr, Handler: mgr.Router()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("evochora: status server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	terminal := cli.New(mgr, os.Stdin, os.Stdout)
	if err := terminal.Run(); err != nil {
		return err
	}

	mgr.StopAll()
	mgr.Wait()
	return nil
}
