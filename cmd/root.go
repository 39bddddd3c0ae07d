// Package cmd provides the assetpipe command-line interface.
//
// Configuration System:
//
//	Settings come from several sources with clear precedence:
//	1. Command-line flags (--root, --log-level, --port) - highest priority
//	2. ASSETPIPE_* environment variables, including ones loaded from .env
//	3. The configuration file: --config, else ASSETPIPE_CONFIG_FILE, else the
//	   first of config.json, .assetpipe.yml and .assetpipe.yaml in the project
//	   root
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	ASSETPIPE_CONFIG_FILE: Path to a configuration file
//	ASSETPIPE_PROXYURL: Address of the local server watch fronts
//	ASSETPIPE_SERVER_PORT: Port the live-reload proxy listens on
//	And every other key following the ASSETPIPE_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/assetpipe/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// configReadErr is reported by commands that load the configuration.
	configReadErr error
)

// configCandidates are searched in order when no file is named explicitly.
var configCandidates = []string{"config.json", ".assetpipe.yml", ".assetpipe.yaml"}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetpipe",
	Short: "Front-end asset build pipeline with live reload",
	Long: `assetpipe builds the front-end assets under src/ into dist/ and keeps a
browser in sync while you work.

Categories:
  php, html          copied unchanged
  images             optimized, mirrored under dist/images
  styles             compiled with sass, prefixed, minified, bundled into style.css
  vendor-scripts     concatenated into vendor-scripts.min.js
  custom-scripts     concatenated into custom-scripts.js

Quick Start:
  assetpipe build                 Clean and build every category
  assetpipe watch                 Proxy proxyUrl with live reload and rebuild on change
  assetpipe styles                Build one category
  assetpipe clean-images          Remove one category's output
  assetpipe catalog               Show where every category reads and writes`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.json or .assetpipe.yml, can also use ASSETPIPE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("root", ".", "project root holding src/ and dist/")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))

	for _, c := range newCategoryCommands() {
		rootCmd.AddCommand(c)
	}
}

// initConfig wires every configuration source into the global viper.
//
// Config file priority (highest to lowest):
//  1. --config flag
//  2. ASSETPIPE_CONFIG_FILE environment variable
//  3. The first configCandidates entry present in the project root
//
// A .env file in the working directory is loaded before the environment is
// consulted; variables already set win over it.
func initConfig() {
	configReadErr = nil
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Warning: could not load .env:", err)
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer)

	file := configFile()
	if file == "" {
		return
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		configReadErr = fmt.Errorf("read config file %s: %w", file, err)
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}

// configFile picks the configuration file, or "" when there is none. The
// candidates are looked up in the project root.
func configFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); env != "" {
		return env
	}
	root := viper.GetString("root")
	for _, name := range configCandidates {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
