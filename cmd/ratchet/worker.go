package main

import (
	"context"
	"fmt"
	"os"

	"ratchet/internal/config"
	"ratchet/internal/ipc"
	"ratchet/internal/logging"
	"ratchet/internal/worker"
)

// runWorker enters worker-process mode (C2): it owns one Runtime, resolves
// task sources from the same sources the coordinator's catalog uses, and
// serves ExecuteTask/ValidateTask/Ping/Shutdown over stdin/stdout framed
// IPC until the coordinator sends Shutdown or the pipe closes.
func runWorker(workerID string) error {
	if workerID == "" {
		return fmt.Errorf("--worker requires --worker-id")
	}

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	os.Setenv("RATCHET_LOG_DIR", cfg.LogDir)

	runtime, err := worker.NewRuntime(64)
	if err != nil {
		return fmt.Errorf("init script runtime: %w", err)
	}

	catalog, _ := buildCatalog(cfg)
	resolve := func(taskRef string) (worker.TaskSource, error) {
		def, err := catalog.Resolve(context.Background(), taskRef)
		if err != nil {
			return worker.TaskSource{}, err
		}
		return worker.TaskSource{
			Name:         def.Name,
			Script:       def.Script,
			InputSchema:  def.InputSchema,
			OutputSchema: def.OutputSchema,
		}, nil
	}

	dispatcher := worker.NewDispatcher(workerID, runtime, resolve)
	logger := logging.NewComponentLogger("worker." + workerID)
	logger.Info("worker process started")

	transport := ipc.NewTransport(os.Stdin, os.Stdout)
	return dispatcher.Run(transport)
}
