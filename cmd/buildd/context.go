package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"buildd/internal/config"
	"buildd/internal/identity"
	"buildd/internal/logging"
)

type commandContext struct {
	configFlag *string
	rootFlag   *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, rootFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		rootFlag:   rootFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if root := flagValue(c.rootFlag); root != "" {
			expanded, err := config.ExpandPath(root)
			if err != nil {
				c.configErr = fmt.Errorf("resolve project root: %w", err)
				return
			}
			if cfg.Project.Root, err = filepath.Abs(expanded); err != nil {
				c.configErr = fmt.Errorf("resolve project root: %w", err)
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

// forwardedConfigPath is the config file a watcher child process should load.
func (c *commandContext) forwardedConfigPath() string {
	if !c.configExists {
		return ""
	}
	return c.configPath
}

func (c *commandContext) identity() (*config.Config, identity.Identity, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, identity.Identity{}, err
	}
	id, err := identity.Derive(cfg.Project.Root)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	return cfg, id, nil
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func executablePath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}
