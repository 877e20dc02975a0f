package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/herdctl/herd/internal/controlplane"
	"github.com/herdctl/herd/internal/health"
	"github.com/herdctl/herd/internal/protocol"
	"github.com/herdctl/herd/internal/review"
	"github.com/herdctl/herd/internal/routing"
	"github.com/herdctl/herd/internal/runner"
	"github.com/herdctl/herd/internal/state"
	"github.com/herdctl/herd/internal/supervisor"
)

var (
	serveItemTimeout  time.Duration
	serveShutdownWait time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runner for this project",
	Long: `Start the orchestration runner.

The runner schedules ready work items onto agents, supervises their
subprocesses, and listens on a local socket for attaching clients. It
keeps running headless; use 'herd attach' to watch it or 'herd stop' to
shut it down gracefully.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveItemTimeout, "item-timeout", 0, "Kill runs exceeding this duration (0 disables)")
	serveCmd.Flags().DurationVar(&serveShutdownWait, "shutdown-wait", 10*time.Second, "Grace period for subprocesses on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	if existing, err := controlplane.ReadIdentity(root); err == nil {
		if isAlive(existing.PID) {
			return fmt.Errorf("a runner (pid %d) already owns this project", existing.PID)
		}
		// Stale identity from a crashed instance; reconciliation below
		// will sort out what it left behind.
		controlplane.RemoveIdentity(root)
	}

	routes, err := routing.Load(routing.ConfigPath(root))
	if err != nil {
		return fmt.Errorf("load routing config (run 'herd init' first?): %w", err)
	}

	db, err := state.OpenProject(root)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	instanceID := uuid.New().String()
	socketPath := controlplane.SocketPath(root)

	emitter := runner.NewEmitter(256)
	tracker := health.NewTracker(health.DefaultConfig())
	sup := supervisor.New(routes.ConcurrencyLimit,
		supervisor.WithRecorder(db),
		supervisor.WithCaptureDir(captureDir(root)),
		supervisor.WithOutputSink(func(itemID string, chunk []byte) {
			emitter.Emit(&protocol.OutputChunk{WorkItemID: itemID, Data: chunk})
		}),
	)

	var trigger review.Trigger = review.NopTrigger{}
	if len(routes.ReviewCommand()) > 0 {
		trigger = review.NewCommandTrigger(routes.ReviewCommand)
	}

	r := runner.New(instanceID, socketPath, db, routes, tracker, sup, trigger, emitter,
		runner.WithItemTimeout(serveItemTimeout),
		runner.WithWorkDir(root),
	)

	srv := controlplane.NewServer(instanceID, socketPath, r, emitter.Events())
	if err := srv.Start(); err != nil {
		return err
	}
	if port := srv.TCPPort(); port != 0 {
		if err := controlplane.WritePortFile(root, port); err != nil {
			srv.Stop()
			return err
		}
	}

	if err := controlplane.WriteIdentity(root, controlplane.Identity{
		InstanceID: instanceID,
		PID:        os.Getpid(),
		SocketPath: socketPath,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		srv.Stop()
		return err
	}
	defer controlplane.RemoveIdentity(root)

	watcher, err := routing.Watch(routes, nil)
	if err != nil {
		log.Printf("[serve] config watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	// Only this process ever reaches supervisor teardown; clients never do.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("[serve] received %s, stopping", sig)
		r.Stop()
	}()

	runErr := r.Run()
	srv.Stop()
	sup.Shutdown(serveShutdownWait)
	// Closed last: the supervisor's output sink emits until shutdown.
	emitter.Close()
	return runErr
}

func captureDir(root string) string {
	return filepath.Join(root, ".herd", "runs")
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
