package main

import (
	"context"
	"os"
	"path/filepath"

	"compass/internal/config"
	"compass/internal/engine"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

// CLI holds flags shared by every subcommand.
type CLI struct {
	configPath   string
	registryPath string
	logLevel     string
}

// NewRootCommand assembles the compass command tree.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}
	rootCmd := &cobra.Command{
		Use:   "compass",
		Short: "Select the directives that apply to an instruction",
		Long: `compass classifies an instruction into an operating context (coding, testing,
debugging, docs, review, or the default) and resolves the directives that
context requires, always-apply directives first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "Config file (default: ./compass.yaml or ~/.compass/compass.yaml)")
	rootCmd.PersistentFlags().StringVar(&cli.registryPath, "registry", "", "Registry file, overriding registry.path")
	rootCmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newSelectCommand(cli))
	rootCmd.AddCommand(newClassifyCommand(cli))
	rootCmd.AddCommand(newValidateCommand(cli))
	rootCmd.AddCommand(newImportCommand(cli))
	rootCmd.AddCommand(newServeCommand(cli))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (c *CLI) loadConfig() (config.Config, error) {
	var opts []config.Option
	if c.configPath != "" {
		opts = append(opts, config.WithFile(c.configPath))
	} else {
		dirs := []string{"."}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, ".compass"))
		}
		opts = append(opts, config.WithSearchPaths(dirs...))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, err
	}
	if c.registryPath != "" {
		cfg.Registry.Path = c.registryPath
	}
	if c.logLevel != "" {
		cfg.Observability.Logging.Level = c.logLevel
	}
	return cfg, config.Validate(cfg, "flags")
}

func (c *CLI) openEngine(ctx context.Context, cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(ctx, cfg, engine.WithLogOutput(cmd.ErrOrStderr()))
}
