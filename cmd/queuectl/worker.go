package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rootlog "github.com/domonda/golog/log"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/api"
	"github.com/queuectl/queuectl/internal/backoff"
	"github.com/queuectl/queuectl/internal/executor"
	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/jobstore"
	"github.com/queuectl/queuectl/internal/pool"
	"github.com/queuectl/queuectl/internal/queue"
	"github.com/queuectl/queuectl/internal/ws"
)

var log = rootlog.NewPackageLogger("queuectl")

func workerCmd(a *app) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run or stop the worker daemon",
	}

	var (
		count int
		grace time.Duration
	)
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start workers in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if grace <= 0 {
				grace = a.cfg.JobTimeout()
			}
			return a.runWorkers(cmd.Context(), count, grace)
		},
	}
	startCmd.Flags().IntVar(&count, "count", 1, "number of workers")
	startCmd.Flags().DurationVar(&grace, "grace", 0, "how long to wait for running jobs on shutdown (default: job timeout)")

	var wait time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running worker daemon gracefully",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.stopWorkers(cmd, wait)
		},
	}
	stopCmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the daemon to exit")

	workerCmd.AddCommand(startCmd, stopCmd)
	return workerCmd
}

func (a *app) runWorkers(ctx context.Context, count int, grace time.Duration) error {
	if count <= 0 {
		return pool.ErrInvalidCount
	}

	if pf, err := readPIDFile(a.cfg.PIDFile()); err == nil && processAlive(pf.PID) && pf.PID != os.Getpid() {
		return fmt.Errorf("workers are already running (pid %d)", pf.PID)
	}

	store, err := jobstore.Open(a.cfg.DataDir, jobstore.Options{LockTimeout: a.cfg.LockTimeout()})
	if err != nil {
		return err
	}
	defer store.Close()

	q := queue.New(store, queue.Options{DefaultMaxRetries: a.cfg.MaxRetries})
	hub := ws.NewHub()
	q.AddListener(hub)

	p := pool.New(q, pool.Options{
		Executor:     executor.NewShell(a.cfg.JobTimeout()),
		Backoff:      backoff.NewExponential(a.cfg.BackoffBase, time.Second),
		PollInterval: a.cfg.PollInterval(),
		LeaseTimeout: a.cfg.LeaseTimeout(),
	})

	listener, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.HTTPAddr, err)
	}
	server := &http.Server{
		Handler:           api.NewRouter(q, p, hub),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := p.Start(ctx, count); err != nil {
		listener.Close()
		return err
	}

	pidPath := a.cfg.PIDFile()
	if err := writePIDFile(pidPath, pidFile{PID: os.Getpid(), Addr: listener.Addr().String()}); err != nil {
		log.Warn("Could not write pid file").Str("path", pidPath).Err(err).Log()
	}
	defer removePIDFile(pidPath, os.Getpid())

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info("Workers running").
		Int("count", count).
		Str("dataDir", a.cfg.DataDir).
		Str("api", listener.Addr().String()).
		Log()
	fmt.Printf("Started %d worker(s), API on http://%s. Press Ctrl+C to stop.\n", count, listener.Addr())

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error
	select {
	case sig := <-signals:
		log.Info("Received signal, shutting down").Str("signal", sig.String()).Log()
	case <-p.Done():
		runErr = p.Err()
	case runErr = <-serverErr:
		log.Error("API server failed").Err(runErr).Log()
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer stopCancel()
	go func() {
		select {
		case <-signals:
			log.Warn("Second signal, cancelling running jobs").Log()
			stopCancel()
		case <-stopCtx.Done():
		}
	}()

	if err := p.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown").Err(err).Log()
	}

	if stats, err := q.Stats(context.WithoutCancel(ctx)); err == nil {
		log.Info("Workers stopped").
			Int("pending", stats[job.StatePending]).
			Int("completed", stats[job.StateCompleted]).
			Int("dead", stats[job.StateDead]).
			Log()
	}
	return runErr
}

func (a *app) stopWorkers(cmd *cobra.Command, wait time.Duration) error {
	pidPath := a.cfg.PIDFile()
	pf, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("no running workers found")
		}
		return err
	}
	if !processAlive(pf.PID) {
		os.Remove(pidPath)
		return fmt.Errorf("workers are not running (removed stale pid file for pid %d)", pf.PID)
	}

	proc, err := os.FindProcess(pf.PID)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pf.PID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to workers (pid %d)\n", pf.PID)

	if wait <= 0 {
		return nil
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !processAlive(pf.PID) {
			fmt.Fprintln(cmd.OutOrStdout(), "Workers stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("workers (pid %d) still running after %s", pf.PID, wait)
}
