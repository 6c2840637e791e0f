package cli

// Config holds the command line settings shared by all commands
type Config struct {
	ConfigFile string
	StateDir   string
	Verbosity  string
	Addr       string
	Version    string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		Verbosity: "info",
	}
}
