package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	envFile     string
	logLevelInt int
	logLevel    zerolog.Level = 1
	// The root command of our program
	rootCmd = &cobra.Command{
		Use:   "devicehub",
		Short: "Device hub event listener and platform client.",
		Long: `Receives device events delivered to a queue subscribed to the device hub topic,
		dispatches them to handlers and sinks, and sends commands back to the platform.`,
	}
)

// Go, go, go
func main() {
	rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Bind our args to the command
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "The env file to read.")
	rootCmd.PersistentFlags().IntVar(&logLevelInt, "log", 1, "The logging level to use.")

	rootCmd.AddCommand(listenCmd, localCmd, sendCmd, confirmCmd)
}

func initConfig() {
	setLogLevel()

	err := godotenv.Load(envFile)
	if err != nil {
		slog.Info("failed to load env file", "error", err.Error())
	}
}

func setLogLevel() {
	logLevel = zerolog.Level(logLevelInt)
	zerolog.SetGlobalLevel(logLevel)
}
