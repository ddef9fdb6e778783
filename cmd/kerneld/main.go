package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/r3e-network/agent-kernel/internal/dashboard"
	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/checkpoint"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/executor"
	"github.com/r3e-network/agent-kernel/internal/kernel/genesis"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/mint"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
	"github.com/r3e-network/agent-kernel/internal/kernel/scheduler"
	"github.com/r3e-network/agent-kernel/internal/llmgateway"
	"github.com/r3e-network/agent-kernel/pkg/config"
	"github.com/r3e-network/agent-kernel/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE and configs/config.yaml)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig(cfg.Logging))
	appLog.Infof("agent-kernel starting")

	store := artifact.New()
	led := ledger.New()
	rates := ratetracker.New(ratetracker.Window{
		Duration: cfg.Kernel.RateLimiting.DefaultWindow,
		Capacity: cfg.Kernel.RateLimiting.DefaultCapacity,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.EventLog.Path), 0o755); err != nil {
		log.Fatalf("create event log directory: %v", err)
	}
	jsonlSink, err := eventlog.NewJSONLSink(cfg.EventLog.Path)
	if err != nil {
		log.Fatalf("open event log sink %s: %v", cfg.EventLog.Path, err)
	}
	defer jsonlSink.Close()
	events := eventlog.New(jsonlSink)

	sandbox := executor.NewSandbox(cfg.Kernel.Executor.CompiledCacheSize)
	ex := &executor.Executor{
		Store:    store,
		Ledger:   led,
		Rates:    rates,
		Events:   events,
		Sandbox:  sandbox,
		MaxDepth: cfg.Kernel.Executor.MaxInvocationDepth,
		Timeout:  cfg.Kernel.Executor.ScriptTimeout,
	}

	var llm llmgateway.Client = &llmgateway.BudgetedClient{
		Underlying:      &llmgateway.FakeClient{},
		Ledger:          led,
		Rates:           rates,
		GlobalCapMicros: cfg.Kernel.Budget.GlobalMicrosPerTick,
	}

	sched := scheduler.New(store, ex, rates, events, llm, scheduler.Config{
		MaxConsecutiveCrashes: cfg.Kernel.Scheduler.MaxConsecutiveCrashes,
		CrashWindow:           cfg.Kernel.Scheduler.CrashWindow,
		BackoffInitial:        cfg.Kernel.Scheduler.BackoffInitial,
		BackoffMax:            cfg.Kernel.Scheduler.BackoffMax,
	}, appLog)
	store.SetLoopOwnerChecker(sched)

	scorer := &mint.LLMScorer{Store: store, LLM: llm, Model: "mint-scorer"}
	m := mint.New(store, led, events, scorer, mint.Config{
		Start:            time.Now(),
		AuctionPeriod:    cfg.Kernel.Mint.AuctionPeriod,
		BiddingWindow:    cfg.Kernel.Mint.BiddingDuration,
		FirstAuctionTick: cfg.Kernel.Mint.FirstAuctionTick,
		MinBid:           cfg.Kernel.Mint.MinBid,
		MintRatio:        cfg.Kernel.Mint.MintRatio,
		UBISinkPrincipal: cfg.Kernel.Mint.UBISinkPrincipal,
	}, appLog)

	checkpointPath := cfg.Checkpoint.Path
	if err := os.MkdirAll(filepath.Dir(checkpointPath), 0o755); err != nil {
		log.Fatalf("create checkpoint directory: %v", err)
	}
	sources := checkpoint.Sources{Store: store, Ledger: led, Rates: rates, Events: events, Mint: m}
	if cp, err := checkpoint.Read(checkpointPath); err == nil {
		checkpoint.Apply(cp, sources)
		appLog.Infof("restored checkpoint from %s at event watermark %d", checkpointPath, cp.EventWatermark)
	} else if !os.IsNotExist(err) {
		log.Fatalf("read checkpoint %s: %v", checkpointPath, err)
	} else {
		loader := &genesis.Loader{Store: store, Ledger: led}
		if err := loader.LoadDir(cfg.Genesis.Dir); err != nil {
			log.Fatalf("load genesis manifests from %s: %v", cfg.Genesis.Dir, err)
		}
		appLog.Infof("loaded genesis manifests from %s", cfg.Genesis.Dir)
	}

	clock, err := mint.NewClock(m, "@every "+cfg.Kernel.Mint.TickInterval.String(), appLog)
	if err != nil {
		log.Fatalf("build mint clock: %v", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	sched.Boot(rootCtx)
	clock.Start()

	dashAddr := cfg.Dashboard.Host + ":" + itoa(cfg.Dashboard.Port)
	dashSrv := newDashboardServer(dashAddr, dashboard.New(dashboard.Dependencies{
		Store: store, Ledger: led, Events: events, Mint: m, Log: appLog,
		RequestsPerSecond: cfg.Dashboard.RequestsPerSecond,
		Burst:             cfg.Dashboard.Burst,
	}))
	go func() {
		appLog.Infof("dashboard listening on %s", dashAddr)
		if err := dashSrv.ListenAndServe(); err != nil && !isServerClosed(err) {
			appLog.Errorf("dashboard server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	appLog.Infof("shutdown signal received")

	cancelRoot()
	clock.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dashSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Warnf("dashboard shutdown: %v", err)
	}

	cp := checkpoint.Capture(sources)
	if err := checkpoint.Write(checkpointPath, cp); err != nil {
		log.Fatalf("write checkpoint %s: %v", checkpointPath, err)
	}
	appLog.Infof("checkpoint written to %s at event watermark %d", checkpointPath, cp.EventWatermark)
}
