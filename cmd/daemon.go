package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ftahirops/qplane/api"
	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/model"
	"github.com/ftahirops/qplane/store"
)

// shutdownGrace bounds how long in-flight HTTP requests may linger
// after a termination signal.
const shutdownGrace = 5 * time.Second

// runDaemon runs qplane as a long-lived control plane: executors push
// metrics over HTTP, the engines tick on the wall clock, and every
// decision lands in the store and the event log under DataDir.
func runDaemon(cfg config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath := filepath.Join(cfg.DataDir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := bus.WallClock{}
	rt := control.NewRuntime(clock, cfg)

	st, err := store.Open(ctx, cfg.Store, cfg.DataDir, clock)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	detachStore := attachPersistence(ctx, rt, st)
	defer detachStore()

	eventLog := control.NewEventLog(filepath.Join(cfg.DataDir, "events.jsonl"))
	detachLog := eventLog.Attach(rt.Bus)
	defer detachLog()

	if cfg.PolicyBundlePath != "" {
		apply := func(b config.Bundle) {
			if err := rt.ApplyBundle(b); err != nil {
				log.Printf("policy bundle: %v", err)
			} else {
				log.Printf("policy bundle applied from %s", cfg.PolicyBundlePath)
			}
			persistCostPolicies(ctx, st, b, clock.Now())
		}
		if b, err := config.LoadBundle(cfg.PolicyBundlePath); err != nil {
			log.Printf("policy bundle: %v", err)
		} else {
			apply(b)
		}
		stop, err := config.WatchBundle(cfg.PolicyBundlePath, apply)
		if err != nil {
			log.Printf("policy bundle watch: %v", err)
		} else {
			defer stop()
		}
	}

	snapFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "snapshots.jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open snapshot log: %w", err)
	}
	defer snapFile.Close()
	recorder := control.NewRecorder(rt, snapFile)

	rt.Start(ctx)
	defer rt.Stop()

	srv := api.NewServer(rt, cfg.ListenAddr)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Record one control frame per governor evaluation.
	recordEvery := time.Duration(cfg.BurnRate.IntervalSec) * time.Second
	if recordEvery <= 0 {
		recordEvery = 30 * time.Second
	}
	recordTicker := time.NewTicker(recordEvery)
	defer recordTicker.Stop()

	log.Printf("qplane daemon started (pid=%d, addr=%s, datadir=%s)",
		os.Getpid(), cfg.ListenAddr, cfg.DataDir)

	for {
		select {
		case sig := <-sigCh:
			log.Printf("qplane daemon shutting down (%s)", sig)
			recorder.Record(rt.Snapshot())
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
			err := srv.Shutdown(shutdownCtx)
			done()
			return err
		case err := <-srvErr:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-recordTicker.C:
			recorder.Record(rt.Snapshot())
		}
	}
}

// attachPersistence subscribes the store to the decisions worth keeping
// across restarts. The returned func detaches every subscription.
func attachPersistence(ctx context.Context, rt *control.Runtime, st store.Store) func() {
	var detach []func()

	saveTransition := func(ev bus.Event) {
		tr, ok := ev.Payload.(model.DegradationTransition)
		if !ok {
			return
		}
		rec := model.EscalationRecord{
			ID:        uuid.NewString(),
			Timestamp: ev.Timestamp,
			FromLevel: tr.FromLevel,
			ToLevel:   tr.ToLevel,
			Reason:    tr.Reason,
			Manual:    tr.Manual,
		}
		if err := store.SaveEscalation(ctx, st, rec); err != nil {
			log.Printf("persist escalation: %v", err)
		}
		if err := store.SaveLadderPosture(ctx, st, rt.Ladder.Status()); err != nil {
			log.Printf("persist ladder posture: %v", err)
		}
	}
	detach = append(detach, rt.Bus.Subscribe(bus.TopicDegradationEscalated, saveTransition))
	detach = append(detach, rt.Bus.Subscribe(bus.TopicDegradationDeescalated, saveTransition))

	detach = append(detach, rt.Bus.Subscribe(bus.TopicFlowExecutionRecorded, func(ev bus.Event) {
		m, ok := ev.Payload.(model.FlowExecutionMetrics)
		if !ok || m.FlowID == "" {
			return
		}
		if err := store.SaveFlowCost(ctx, st, control.AnalyzeFlowCost(m.FlowID, ev.Timestamp)); err != nil {
			log.Printf("persist flow cost: %v", err)
		}
		if m.Priority != "" {
			fp := model.FlowPriority{FlowID: m.FlowID, Priority: m.Priority, UpdatedAt: ev.Timestamp}
			if err := store.SaveFlowPriority(ctx, st, fp); err != nil {
				log.Printf("persist flow priority: %v", err)
			}
		}
	}))

	return func() {
		for _, d := range detach {
			d()
		}
	}
}

// persistCostPolicies mirrors the bundle's cost policy definitions into
// the store so operators can audit what was live and when.
func persistCostPolicies(ctx context.Context, st store.Store, b config.Bundle, now int64) {
	for _, cp := range b.CostPolicies {
		rec := model.CostPolicyRecord{
			Name:        cp.Name,
			Threshold:   cp.Threshold,
			Action:      cp.Action,
			CooldownMin: cp.CooldownMin,
			UpdatedAt:   now,
		}
		if err := store.SaveCostPolicy(ctx, st, rec); err != nil {
			log.Printf("persist cost policy %s: %v", cp.Name, err)
		}
	}
}
