package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicehub/sdk-go/internal/config"
	"github.com/devicehub/sdk-go/pkg/platform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	device  string
	command string
	params  []string
	wait    time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a command to a logical device",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		parameters, err := parseParams(params)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()

		result := <-platform.Async(ctx, func(ctx context.Context) (*platform.CommandStatus, error) {
			return client.SendCommand(ctx, device, platform.Command{Name: command, Parameters: parameters})
		})
		if result.Err != nil {
			return result.Err
		}

		log.Info().
			Str("command_id", result.Value.CommandID).
			Str("status", result.Value.Status).
			Msg("command queued")
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <subscribe url>",
	Short: "Confirm a pending topic subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()

		if err := client.ConfirmSubscription(ctx, args[0]); err != nil {
			return err
		}
		log.Info().Msg("subscription confirmed")
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&device, "device", "d", "", "The logical device id.")
	sendCmd.Flags().StringVarP(&command, "name", "n", "", "The command name.")
	sendCmd.Flags().StringArrayVar(&params, "param", nil, "A command parameter as name=value. Can be repeated.")
	sendCmd.MarkFlagRequired("device")
	sendCmd.MarkFlagRequired("name")

	for _, c := range []*cobra.Command{sendCmd, confirmCmd} {
		c.Flags().DurationVar(&wait, "timeout", 30*time.Second, "How long to wait for the platform.")
	}
}

func newClient() (*platform.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("DEVICEHUB_URL is not set")
	}
	return platform.New(cfg.BaseURL, cfg.AccessKey, platform.WithFormat(cfg.Format), platform.WithTimeout(wait))
}

func parseParams(raw []string) ([]platform.Parameter, error) {
	var parameters []platform.Parameter
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", p)
		}
		parameters = append(parameters, platform.Parameter{Name: strings.TrimSpace(name), Value: value})
	}
	return parameters, nil
}
