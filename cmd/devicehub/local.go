package main

import (
	"github.com/devicehub/sdk-go/internal/listen"
	"github.com/spf13/cobra"
)

var (
	path string
	gzip bool
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Dispatch events from local files and directories",
	Run: func(cmd *cobra.Command, args []string) {
		listen.Local(path, gzip, logLevel)
	},
}

func init() {
	localCmd.Flags().StringVarP(&path, "path", "p", ".", "The path to read from. Can be a file or a directory.")
	localCmd.Flags().BoolVar(&gzip, "gzip", false, "Payloads are base64 encoded gzip.")
}
