package sandbox

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/compose-network/deploykit/configs"
)

var (
	CMD = &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local anvil chain in docker",
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the sandbox chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			docker, err := NewDockerClient()
			if err != nil {
				return err
			}
			defer docker.Close()

			url, err := New(docker, fromConfig(configs.Values.Sandbox)).Start(cmd.Context())
			if err != nil {
				return fmt.Errorf("error occurred starting sandbox: %w", err)
			}

			slog.With("url", url).Info("sandbox is ready")
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop and remove the sandbox chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			docker, err := NewDockerClient()
			if err != nil {
				return err
			}
			defer docker.Close()

			return New(docker, fromConfig(configs.Values.Sandbox)).Stop(cmd.Context())
		},
	}
)

func init() {
	CMD.AddCommand(startCmd)
	CMD.AddCommand(stopCmd)
}

func fromConfig(cfg configs.Sandbox) Config {
	return Config{
		Image:         cfg.Image,
		ContainerName: cfg.ContainerName,
		Port:          cfg.Port,
		ChainID:       cfg.ChainID,
		BlockTime:     cfg.BlockTime,
	}
}
