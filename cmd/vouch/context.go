package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"vouch/internal/config"
	"vouch/internal/identity"
	"vouch/internal/logging"
	"vouch/internal/models"
	"vouch/internal/queue"
	"vouch/internal/workflow"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if c.logFormatFlag != nil && strings.TrimSpace(*c.logFormatFlag) != "" {
			cfg.Logging.Format = strings.TrimSpace(*c.logFormatFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.loggerOnce.Do(func() {
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg.Paths.StateDir)
	if err != nil {
		return fmt.Errorf("open run database: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withManager opens the pretrained model artifacts and builds a workflow
// manager around them. The models and the store are released when fn returns.
func (c *commandContext) withManager(fn func(*workflow.Manager, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}

	mapping, err := identity.Discover(cfg.Paths.DataRoot)
	if err != nil {
		return fmt.Errorf("discover identities: %w", err)
	}

	denoiser, err := models.OpenDenoiser(cfg)
	if err != nil {
		return fmt.Errorf("open denoiser: %w", err)
	}
	defer denoiser.Close()

	autoencoder, err := models.OpenAutoencoder(cfg)
	if err != nil {
		return fmt.Errorf("open autoencoder: %w", err)
	}
	defer autoencoder.Close()

	embedder, err := models.OpenEmbeddingTable(cfg.Models.EmbeddingPath, cfg.Models.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("open embedding table: %w", err)
	}

	return c.withStore(func(store *queue.Store) error {
		manager, err := workflow.NewManager(workflow.Deps{
			Config:      cfg,
			Store:       store,
			Mapping:     mapping,
			Denoiser:    denoiser,
			Autoencoder: autoencoder,
			Embedder:    embedder,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		return fn(manager, store)
	})
}
