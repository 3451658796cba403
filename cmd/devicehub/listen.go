package main

import (
	"context"

	"github.com/devicehub/sdk-go/internal/config"
	"github.com/devicehub/sdk-go/internal/listen"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Dispatch events from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		listen.Server(context.Background(), cfg, logLevel)
		return nil
	},
}
