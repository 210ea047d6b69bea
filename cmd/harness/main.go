// harness - run a tool-using language model agent from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/internal/config"
)

var (
	configPath   string
	modelFlag    string
	providerFlag string
	thinkingFlag string
	logLevelFlag string
	workDirFlag  string
	systemFlag   string
	noColorFlag  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Run a tool-using language model agent",
	Long: `harness drives a language model through multi-turn tool use.

Settings come from an optional TOML or YAML config file, then HARNESS_*
environment variables, then flags.

Environment:
  HARNESS_MODEL, HARNESS_PROVIDER, HARNESS_THINKING_LEVEL, ...
  ANTHROPIC_API_KEY, OPENAI_API_KEY, MISTRAL_API_KEY, DEEPSEEK_API_KEY`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	flags.StringVarP(&modelFlag, "model", "m", "", "Model id, e.g. claude-sonnet-4-5")
	flags.StringVarP(&providerFlag, "provider", "p", "", "Provider name, e.g. anthropic")
	flags.StringVar(&thinkingFlag, "thinking", "", "Thinking level: off, minimal, low, medium, high, xhigh")
	flags.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVarP(&workDirFlag, "workdir", "C", "", "Working directory for tools")
	flags.StringVar(&systemFlag, "system", "", "System prompt")
	flags.BoolVar(&noColorFlag, "no-color", os.Getenv("NO_COLOR") != "", "Disable colored logs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modelsCmd)
}

// loadConfig loads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if thinkingFlag != "" {
		cfg.ThinkingLevel = thinkingFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if workDirFlag != "" {
		cfg.WorkDir = workDirFlag
	}
	if systemFlag != "" {
		cfg.SystemPrompt = systemFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return cfg, nil
}
