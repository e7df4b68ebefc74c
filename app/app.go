// Package app turns configuration into the concrete store, lease and simulator
// shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"vidiox/config"
	"vidiox/job"
	"vidiox/lease"
	"vidiox/simulator"
)

// OpenStore returns the job store named by STORE_DRIVER and a func that
// releases it.
func OpenStore(cfg *config.Config) (job.Store, func() error, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "", "memory":
		return job.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite", "mysql":
		db, err := job.Open(cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return job.NewGormStore(db), sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
}

// OpenLocker returns the runner lease named by LEASE_DRIVER.
func OpenLocker(ctx context.Context, cfg *config.Config) (lease.Locker, func() error, error) {
	switch strings.ToLower(cfg.LeaseDriver) {
	case "", "memory":
		return lease.NewMemoryLocker(), func() error { return nil }, nil
	case "redis":
		rdb, err := lease.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return lease.NewRedisLocker(rdb), rdb.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported LEASE_DRIVER %q", cfg.LeaseDriver)
}

func NewSimulator(cfg *config.Config, store job.Store, locker lease.Locker, log zerolog.Logger) *simulator.Manager {
	return simulator.NewManager(store, locker, simulator.Options{
		Concurrency: cfg.MaxConcurrency,
		StepDelay:   cfg.SimulatorStepDelay,
		BaseURL:     cfg.BaseURL,
	}, log)
}

func NewThrottle(cfg *config.Config, log zerolog.Logger) *simulator.Throttle {
	return &simulator.Throttle{
		IdleCPU:  cfg.ThrottleCPU,
		FreeMem:  cfg.ThrottleFreeMem,
		FreeDisk: cfg.ThrottleFreeDisk,
		Dir:      cfg.StorageDir,
		Log:      log,
	}
}
