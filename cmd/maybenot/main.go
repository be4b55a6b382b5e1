// Command maybenot is a CLI for inspecting maybenot machines: their wire
// encoding, deterministic name, and per-state description.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jihwankim/maybenot/pkg/config"
	"github.com/jihwankim/maybenot/pkg/logging"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:     "maybenot",
	Short:   "Inspect maybenot traffic-analysis-defense machines",
	Long:    `maybenot loads and describes the probabilistic state machines that drive the maybenot padding/blocking framework and its trace simulator.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(machineCmd)
}

// loadConfig loads the CLI config and initializes the global logger from
// its framework section, with --verbose forcing debug level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := logging.Level(cfg.Framework.LogLevel)
	if verbose {
		level = logging.LevelDebug
	}
	logging.InitGlobal(logging.Config{
		Level:  level,
		Format: logging.Format(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})

	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
