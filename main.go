package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/therealbobo/sheetpoll/internal/app"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var Version = "devel"

var RootCmd = &cobra.Command{
	Use:     "sheetpoll",
	Short:   "Incremental reader for records printed by an external script",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, _ := cmd.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	},
}

func readConfig(cmd *cobra.Command) []byte {
	filename, _ := cmd.Flags().GetString("config")
	if filename == "" {
		// every option has a default
		return nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("please provide an existing config")
	}
	f, err := os.ReadFile(filename)
	if err != nil {
		log.Fatal().Err(err).Msg("please provide a readable config")
	}
	return f
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the producer and print new records as JSON lines",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		maxRecords, _ := cmd.Flags().GetInt("max-records")
		err := app.Run(ctx, readConfig(cmd), app.RunOptions{MaxRecords: maxRecords})
		if err != nil {
			log.Fatal().Err(err).Msg("")
		}
	},
}

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Inspect or clear the persisted watermark",
}

var watermarkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted watermark",
	Run: func(cmd *cobra.Command, args []string) {
		value, found, err := app.ShowWatermark(readConfig(cmd))
		if err != nil {
			log.Fatal().Err(err).Msg("")
		}
		if !found {
			log.Info().Msg("no watermark stored")
			return
		}
		fmt.Println(value)
	},
}

var watermarkResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the persisted watermark so the next run ingests everything",
	Run: func(cmd *cobra.Command, args []string) {
		if err := app.ResetWatermark(readConfig(cmd)); err != nil {
			log.Fatal().Err(err).Msg("")
		}
	},
}

func main() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "The configuration of the source.")
	RootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error).")

	runCmd.Flags().IntP("max-records", "n", 0, "Stop after emitting this many records.")

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(watermarkCmd)
	watermarkCmd.AddCommand(watermarkShowCmd)
	watermarkCmd.AddCommand(watermarkResetCmd)

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
