package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/compose-network/deploykit/configs"
	"github.com/compose-network/deploykit/internal/deploy"
	"github.com/compose-network/deploykit/internal/flags"
	"github.com/compose-network/deploykit/internal/logger"
	"github.com/compose-network/deploykit/internal/network"
	"github.com/compose-network/deploykit/internal/records"
	"github.com/compose-network/deploykit/internal/sandbox"
	"github.com/compose-network/deploykit/internal/verify"
)

const (
	appName   = "deploykit"
	envPrefix = "DEPLOYKIT"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:           appName,
		Short:         "Deterministic, idempotent smart contract deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.ApplyDefaults(viper.GetViper()); err != nil {
				return err
			}

			viper.SetEnvPrefix(envPrefix)
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			viper.AutomaticEnv()

			if configFile != "" {
				viper.SetConfigFile(configFile)
			} else {
				viper.SetConfigName("config")
				viper.SetConfigType("yaml")

				if execPath, err := os.Executable(); err == nil {
					viper.AddConfigPath(filepath.Dir(execPath))
				}
				viper.AddConfigPath(".")
				viper.AddConfigPath("./configs")
			}

			// flags, env and the embedded defaults are enough without a file
			configFound := true
			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					const errMsg = "error reading config file"
					slog.With("err", err.Error()).Error(errMsg)
					return errors.Join(err, errors.New(errMsg))
				}
				configFound = false
			}

			if err := viper.Unmarshal(&configs.Values); err != nil {
				const errMsg = "unable to decode application config"
				slog.With("err", err.Error()).Error(errMsg)
				return errors.Join(err, errors.New(errMsg))
			}

			level, err := logger.ParseLevel(configs.Values.Log.Level)
			if err != nil {
				return err
			}
			logger.Initialize(level, configs.Values.Log.Format)

			if configFound {
				slog.With("config_file", viper.ConfigFileUsed()).Debug("config file loaded")
			} else {
				slog.Debug("no config file found, relying on flags, environment and defaults")
			}

			return nil
		},
	}

	stringFlags = []flags.Def[string]{
		{"log-level", "log.level", "", "Log level (debug, info, warn, error)"},
		{"log-format", "log.format", "", "Log format (json or text)"},
		{"networks-file", "networks-file", "", "Network table YAML; empty uses the built-in table"},
		{"definitions", "definitions", "", "Deployment definitions YAML"},
		{"artifacts-dir", "artifacts-dir", "", "Directory with compiled contract artifacts"},
		{"registry-backend", "registry.backend", "", "Registry backend (file or sqlite)"},
		{"registry-dir", "registry.dir", "", "Registry directory for the file backend"},
		{"registry-dsn", "registry.dsn", "", "Database path for the sqlite backend"},
		{"private-key", "deployer.private-key", "", "Deployer private key"},
		{"factory-address", "deployer.factory-address", "", "CREATE2 deployment proxy address"},
		{"etherscan-api-key", "verifier.api-key", "", "Etherscan API key"},
	}

	intFlags = []flags.Def[int]{
		{"concurrency", "deployer.concurrency", 0, "Independent nodes deployed in parallel"},
	}

	boolFlags = []flags.Def[bool]{
		{"verify", "verifier.enabled", false, "Verify deployed contracts on the network's explorer"},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: config.yaml next to the binary, in . or ./configs)")

	flags.MustDeclare(rootCmd.PersistentFlags(), stringFlags)
	flags.MustDeclare(rootCmd.PersistentFlags(), intFlags)
	flags.MustDeclare(rootCmd.PersistentFlags(), boolFlags)
}

func main() {
	rootCmd.AddCommand(deploy.CMD)
	rootCmd.AddCommand(deploy.PlanCMD)
	rootCmd.AddCommand(records.CMD)
	rootCmd.AddCommand(verify.CMD)
	rootCmd.AddCommand(network.CMD)
	rootCmd.AddCommand(sandbox.CMD)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.With("err", err.Error()).Error("failed to execute root command")
		stop()
		os.Exit(1)
	}
}
