package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tsgd/tsgd/pkg/config"
	"github.com/tsgd/tsgd/pkg/daemon"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the group manager daemon",
		Long: `Run the group manager in the foreground, serving the HTTP control API
until interrupted. Configuration changes to the log level and preemption
timeout are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd)
		},
	}
}

func (c *CLI) runServe(cmd *cobra.Command) error {
	settings, err := c.loadSettings()
	if err != nil {
		c.printError(fmt.Sprintf("Invalid configuration: %v", err))
		return err
	}

	d, err := daemon.NewManager(daemon.Config{
		ConfigPath: c.configPath(),
		Settings:   settings,
		Logger:     logger.CreateLogger(settings.Log.File, settings.Log.Level),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func (c *CLI) newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and group status",
		Long:  `Display whether the daemon is running and the groups it last reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")
	return cmd
}

func (c *CLI) runStatus(asJSON bool) error {
	settings, err := c.loadSettings()
	if err != nil {
		return err
	}

	status, err := daemon.GetStatus(settings.StateDir)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(c.output)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if !status.Running {
		c.printWarning("Daemon is not running")
		return nil
	}

	c.printSuccess(fmt.Sprintf("Daemon is running (PID %d)", status.PID))
	st := status.State
	if st == nil {
		return nil
	}
	if addr := st.Metadata["addr"]; addr != "" {
		c.printInfo(fmt.Sprintf("Listening on %s", addr))
	}
	c.printInfo(fmt.Sprintf("Up %s, last heartbeat %s ago",
		time.Since(st.StartedAt).Round(time.Second),
		time.Since(st.Heartbeat).Round(time.Second)))

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TSG\tRUNLIST\tSTATE\tREFS\tCHANNELS\tABORTABLE")
	fmt.Fprintln(w, "---\t-------\t-----\t----\t--------\t---------")
	for _, g := range st.Groups {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%t\n",
			g.ID, g.RunlistID, colorState(g.State), g.RefCount, channelList(g.Channels), g.Abortable)
	}
	return w.Flush()
}

func colorState(s types.GroupState) string {
	switch s {
	case types.GroupStateBound:
		return color.GreenString(string(s))
	case types.GroupStateAborting:
		return color.RedString(string(s))
	case types.GroupStateDestroyed:
		return color.HiBlackString(string(s))
	default:
		return color.WhiteString(string(s))
	}
}

func channelList(chs []types.ChannelSnapshot) string {
	if len(chs) == 0 {
		return "-"
	}
	out := ""
	for i, ch := range chs {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", ch.ID)
		if ch.Faulted {
			out += "!"
		}
	}
	return out
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath()
			if len(args) > 0 {
				path = args[0]
			}
			return c.runValidate(path)
		},
	}
}

func (c *CLI) runValidate(path string) error {
	if path == "" {
		return fmt.Errorf("no configuration file found")
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		c.printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	c.printSuccess(fmt.Sprintf("Configuration is valid: %s", path))
	p := cfg.Platform
	c.printInfo(fmt.Sprintf("%d tsgs, %d channels, %d runlists, fast CE runlist %d",
		p.NumTSGs, p.NumChannels, p.NumRunlists, p.FastCERunlistID))
	if cfg.Remote != nil {
		c.printInfo(fmt.Sprintf("Binds are forwarded to %s", cfg.Remote.Endpoint))
	}
	return nil
}

func (c *CLI) newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigName + ".yaml"
			if len(args) > 0 {
				path = args[0]
			}
			return c.runInit(path, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	return cmd
}

func (c *CLI) runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", path)
	}

	data, err := renderConfig(config.NewManager().GetDefaultConfig(), filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))
	return nil
}

func (c *CLI) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after applying the config file, flags and TSGD_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := c.loadSettings()
			if err != nil {
				return err
			}
			data, err := renderConfig(settings, ".yaml")
			if err != nil {
				return err
			}
			_, err = c.output.Write(data)
			return err
		},
	}
}

// renderConfig encodes cfg as JSON, or as YAML with the same field names
func renderConfig(cfg *config.Config, ext string) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if ext == ".json" {
		return append(data, '\n'), nil
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return yaml.Marshal(tree)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "tsgd v%s\n", c.config.Version)
		},
	}
}
