package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spectile/fieldsync/internal/logger"
	"github.com/spectile/fieldsync/internal/netmon"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the background sync daemon",
	Long: `Watch connectivity and keep the local store reconciled with the
service. A connectivity regain triggers one reconciliation pass;
a periodic schedule (sync_schedule in the config) catches records
that failed earlier. Press Ctrl+C to stop; a final pass flushes
pending changes before exit.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.LogFile != "" {
		if err := logger.SetLogFile(a.cfg.LogFile); err != nil {
			return err
		}
		defer logger.Close()
	}

	monitor := netmon.New()
	monitor.OnOnline(func() {
		logger.Info("watch: connectivity regained, scheduling sync")
		a.engine.Trigger()
	})

	// Periodic catch-up for records that failed on earlier passes.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(a.cfg.SyncSchedule, func() {
		if !monitor.Online() {
			logger.Debug("watch: skipping scheduled sync while offline")
			return
		}
		a.engine.Trigger()
	})
	if err != nil {
		return fmt.Errorf("invalid sync_schedule %q: %w", a.cfg.SyncSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	stopCh := make(chan struct{})
	probeInterval := time.Duration(a.cfg.ProbeIntervalSeconds) * time.Second
	go monitor.Watch(probeInterval, func() bool {
		return a.client.Ping() == nil
	}, stopCh)

	fmt.Printf("watching connectivity (probe every %s, schedule %s)\n",
		probeInterval, a.cfg.SyncSchedule)
	fmt.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	close(stopCh)

	// Flush pending changes before exit.
	fmt.Println("stopping, flushing pending changes...")
	if res, err := a.engine.Reconcile(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: final sync failed: %v\n", err)
	} else if res.Synced > 0 || res.Failed > 0 {
		fmt.Printf("final sync: %d synced, %d failed\n", res.Synced, res.Failed)
	}
	return nil
}
