package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	config "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Config"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	implementation "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Store/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Store/Interfaces"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config   *config.AgentConfig
	logger   *logger.Logger
	identity clmmodels.DeviceIdentity
	db       *bolt.DB

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// NewContainer creates a new dependency injection container. The device
// identity is resolved once here; everything downstream receives it.
func NewContainer() (*Container, error) {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	identity, err := clmmodels.DetectDeviceIdentity(os.Getenv("DEVICE_MAC"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	container := &Container{
		config:   cfg,
		logger:   log,
		identity: identity,
	}
	container.registerCleanup()

	return container, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.AgentConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetIdentity returns the resolved device identity
func (c *Container) GetIdentity() clmmodels.DeviceIdentity {
	return c.identity
}

// GetDatabase returns the local bolt database, opening it on first use
func (c *Container) GetDatabase() (*bolt.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		if err := os.MkdirAll(filepath.Dir(c.config.Storage.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		db, err := bolt.Open(c.config.Storage.Path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open local database: %w", err)
		}
		c.db = db
	}

	return c.db, nil
}

// GetCredentialStore returns the persistent credential store backed by
// the local database
func (c *Container) GetCredentialStore() (interfaces.CredentialStore, error) {
	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for credential store: %w", err)
	}
	kv, err := implementation.NewBoltKeyValueStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key-value store: %w", err)
	}
	return implementation.NewKVCredentialStore(kv), nil
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// registerCleanup registers cleanup functions
func (c *Container) registerCleanup() {
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.db != nil {
			err := c.db.Close()
			c.db = nil
			return err
		}
		return nil
	})
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
