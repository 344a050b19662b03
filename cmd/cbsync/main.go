package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

const defaultConfigPath = "./configs/cbsync.toml"

var (
	cfgFile string
	cfg     models.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Sync()
}

var rootCmd = &cobra.Command{
	Use:   "cbsync",
	Short: "Keep WebKit content blockers in sync with filter subscriptions",
	Long: `cbsync downloads ad-blocking filter lists, groups their rules into six
content blockers (general, privacy, security, social widgets and annoyances,
other, custom) and compiles each into the WebKit content blocker JSON format.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return log.Configure(cfg.Log.Env, cfg.Log.Level)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: "+defaultConfigPath+")")

	rootCmd.AddCommand(initCmd, listCmd, convertCmd, updateCmd, runCmd,
		enableCmd, disableCmd, customCmd, allowListCmd)
}

func setDefaults() {
	viper.SetDefault("http.timeout", "30s")
	viper.SetDefault("http.retries", 3)
	viper.SetDefault("http.user_agent", "cbsync/1.0")
	viper.SetDefault("output.dir", "./output")
	viper.SetDefault("output.rules_limit", 50000)
	viper.SetDefault("output.generate_manifest", true)
	viper.SetDefault("filters.update_period", "48h")
	viper.SetDefault("filters.first_check_delay", "5m")
	viper.SetDefault("filters.use_optimized", false)
	viper.SetDefault("reload.cooldown", "5s")
	viper.SetDefault("reload.safety_timeout", "60s")
	viper.SetDefault("storage.path", "./data/cbsync.db")
	viper.SetDefault("log.env", "prod")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("filtering_enabled", true)
	viper.SetDefault("allowlist.mode", string(models.AllowListDefault))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cbsync")
		viper.SetConfigType("toml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	setDefaults()
	viper.SetEnvPrefix("CBSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := defaultConfigPath
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Printf("Created config file: %s\n", configPath)
	return nil
}

const defaultConfig = `# cbsync configuration

# Turn every content blocker off without losing any setting
filtering_enabled = true

# HTTP client settings
[http]
timeout = "30s"
retries = 3
user_agent = "cbsync/1.0"

# Output settings: one <group>.json per content blocker
[output]
dir = "./output"
rules_limit = 50000
generate_manifest = true

# Filter sources and update schedule
[filters]
# YAML catalog of filters and categories; the bundled one is used when empty
catalog = ""
# JSON document {"filters":[{"filterId":1,"version":"1.0.0"}]}; without it
# versions are read from the "! Version:" header of each list
metadata_url = ""
# Template for rule downloads, {id} and {suffix} are substituted;
# subscription URLs from the catalog are used when empty
rules_url = ""
# Directory holding bundled copies named <id>.txt, preferred on first install
local_dir = ""
update_period = "48h"
first_check_delay = "5m"
use_optimized = false
# File with hand-written rules, watched while running
user_rules_file = "./configs/user_rules.txt"

[reload]
cooldown = "5s"
safety_timeout = "60s"

[storage]
path = "./data/cbsync.db"

[log]
env = "prod"
level = "info"

# mode "default" turns filtering off on the listed domains,
# mode "inverted" keeps filtering only on them
[allowlist]
mode = "default"
domains = []
`
