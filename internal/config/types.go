package config

// YAMLConfig is the on-disk shape of resorch.yaml: operator-wide
// defaults that sit outside any single run root.
type YAMLConfig struct {
	RunsRoot  string          `yaml:"runs_root,omitempty"`
	Driver    *DriverYAML    `yaml:"driver,omitempty"`
	Citations *CitationsYAML `yaml:"citations,omitempty"`
	Watch     *WatchYAML     `yaml:"watch,omitempty"`
}

// DriverYAML selects and configures the AgentDriver this operator's CLI
// should construct by default.
type DriverYAML struct {
	Type       string `yaml:"type,omitempty"` // "fixture" | "task" | "live"
	FixtureDir string `yaml:"fixture_dir,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty"`
}

// CitationsYAML holds the two online-fetch endpoints spec.md §6.4
// references. Tokens are expected to arrive via ${ENV_VAR} expansion
// (see ExpandEnv), never written in plain text.
type CitationsYAML struct {
	BrightDataEndpoint string `yaml:"bright_data_endpoint,omitempty"`
	BrightDataAPIKey   string `yaml:"bright_data_api_key,omitempty"`
	ApifyEndpoint      string `yaml:"apify_endpoint,omitempty"`
	ApifyToken         string `yaml:"apify_token,omitempty"`
}

// WatchYAML configures the `resorch watch` convenience loop.
type WatchYAML struct {
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"`
	Cron            string `yaml:"cron,omitempty"`
}

// Config is the resolved, ready-to-use operator configuration: defaults
// merged with whatever resorch.yaml and the environment supplied.
type Config struct {
	RunsRoot  string
	Driver    DriverYAML
	Citations CitationsYAML
	Watch     WatchYAML

	// ConfigPath is the resorch.yaml path actually loaded, empty if
	// none was found and defaults were used untouched.
	ConfigPath string
}

// BrightDataConfigured reports whether both endpoint and key are set.
func (c *Config) BrightDataConfigured() bool {
	return c.Citations.BrightDataEndpoint != "" && c.Citations.BrightDataAPIKey != ""
}

// ApifyConfigured reports whether both endpoint and token are set.
func (c *Config) ApifyConfigured() bool {
	return c.Citations.ApifyEndpoint != "" && c.Citations.ApifyToken != ""
}

// Defaults returns the built-in configuration used when resorch.yaml is
// absent or leaves a field unset.
func Defaults() *Config {
	return &Config{
		RunsRoot: "./runs",
		Driver:   DriverYAML{Type: "fixture", FixtureDir: "./fixtures"},
		Watch:    WatchYAML{IntervalSeconds: 30},
	}
}
