// Package cli provides the tsgd command line interface
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsgd/tsgd/pkg/config"
	"github.com/tsgd/tsgd/pkg/logger"
)

const defaultConfigName = "tsgd"

// CLI wires the cobra command tree to its own viper instance and output
// writers, so it can be driven from tests.
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    viper.New(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// ExecuteWithVersion runs the CLI on os.Args
func ExecuteWithVersion(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	return NewCLI(cfg).Execute(os.Args[1:])
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "tsgd",
		Short: "Time-slice group manager for GPU channels",
		Long: `tsgd groups GPU work-submission channels into time-slice groups, keeps
their runlists in sync with the hardware scheduler and recovers from engine
faults.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("tsgd v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newServeCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newConfigCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: ./tsgd.json or ./tsgd.yaml)")
	flags.StringVar(&c.config.StateDir, "state-dir", "", "directory for the PID and state files")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.Addr, "addr", "", "HTTP listen address")

	c.viper.BindPFlag("statedir", flags.Lookup("state-dir"))
	c.viper.BindPFlag("log.level", flags.Lookup("verbosity"))
	c.viper.BindPFlag("server.addr", flags.Lookup("addr"))
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.logger = logger.CreateLoggerWithOutput("", c.config.Verbosity, c.errorOut)

	v := c.viper
	if c.config.ConfigFile != "" {
		v.SetConfigFile(c.config.ConfigFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tsgd")
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix("TSGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.config.ConfigFile != "" && !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.logger.Debug("Using config file", logger.WithField("file", v.ConfigFileUsed()))
	}
	return nil
}

// configPath returns the config file in use, or "" when running on defaults
func (c *CLI) configPath() string {
	return c.viper.ConfigFileUsed()
}

// loadSettings loads the config file, if any, and applies flag and
// environment overrides.
func (c *CLI) loadSettings() (*config.Config, error) {
	mgr := config.NewManager()

	settings := mgr.GetDefaultConfig()
	if path := c.configPath(); path != "" {
		loaded, err := mgr.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	v := c.viper
	if v.IsSet("log.level") {
		settings.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.file") {
		settings.Log.File = v.GetString("log.file")
	}
	if v.IsSet("server.addr") {
		settings.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("statedir") {
		settings.StateDir = v.GetString("statedir")
	}
	if v.IsSet("preempttimeoutms") {
		settings.PreemptTimeoutMs = v.GetInt("preempttimeoutms")
	}

	if err := mgr.ValidateConfig(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Output helpers

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.GreenString("[tsgd]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "%s %s\n", color.RedString("[tsgd]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.CyanString("[tsgd]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.YellowString("[tsgd]"), message)
}
