package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bbernhard/cifar-playground/internal/api"
	"github.com/bbernhard/cifar-playground/internal/config"
	"github.com/bbernhard/cifar-playground/internal/history"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/bbernhard/cifar-playground/internal/queue"
	raven "github.com/getsentry/raven-go"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Server.Address, _ = cmd.Flags().GetString("address")
			}
			if cmd.Flags().Changed("release") {
				cfg.Server.Release, _ = cmd.Flags().GetBool("release")
			}
			if cmd.Flags().Changed("redis-address") {
				cfg.Redis.Address, _ = cmd.Flags().GetString("redis-address")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setupLogging(cfg.Log, stderr); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("address", ":8000", "Address to listen on")
	cmd.Flags().Bool("release", false, "Run gin in release mode")
	cmd.Flags().String("redis-address", "", "Redis server for async predictions; empty disables them")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	if cfg.Server.Release {
		log.Info("[Main] Starting gin in release mode!")
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Sentry.DSN != "" {
		if err := raven.SetDSN(cfg.Sentry.DSN); err != nil {
			return fmt.Errorf("configuring sentry: %w", err)
		}
		raven.SetRelease(version)
	}

	classifier, err := newClassifier(cfg.Model)
	if err != nil {
		return err
	}
	defer classifier.Close()

	opts := api.Options{
		Version:        version,
		HistoryView:    cfg.History.View,
		MaxBatchFiles:  cfg.Batch.MaxFiles,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}

	var q *queue.Queue
	if cfg.Redis.Address != "" {
		q = queue.New(queue.Options{
			Address:        cfg.Redis.Address,
			MaxConnections: cfg.Redis.MaxConnections,
			QueueKey:       cfg.Redis.QueueKey,
			ResultTTL:      cfg.Redis.ResultTTL,
		})
		defer q.Close()
		if err := q.Ping(); err != nil {
			log.Warn("[Main] Redis at ", cfg.Redis.Address, " is not reachable yet: ", err.Error())
		}
		opts.Queue = q
	}

	// workers stop before the redis pool is closed
	var workers sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer func() {
		cancelWorkers()
		workers.Wait()
	}()

	if q != nil {
		jobQueue := make(chan predict.Job, cfg.Workers.QueueSize)
		dispatcher := predict.NewDispatcher(jobQueue, cfg.Workers.Count, classifier, q)
		workers.Add(2)
		go func() {
			defer workers.Done()
			dispatcher.Run(workerCtx)
		}()
		go func() {
			defer workers.Done()
			predict.Feed(workerCtx, q, jobQueue, time.Second)
		}()
		log.Info("[Main] Async predictions enabled with ", cfg.Workers.Count, " workers")
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.New(classifier, history.New(cfg.History.Capacity), opts),
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("[Main] Listening on ", cfg.Server.Address)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("[Main] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
