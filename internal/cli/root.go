// Package cli defines the tunemesh command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunemesh/tunemesh/internal/library"
	"github.com/tunemesh/tunemesh/internal/logger"
)

var (
	flagDB      string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:  `tunemesh`,
	Long: `tunemesh shares music libraries between peers over direct data channels`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "tunemesh.db", "path to the library database")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(libraryCmd)
}

func newLogger() *slog.Logger {
	return logger.New(flagVerbose)
}

func openLibrary() (*library.Library, error) {
	lib, err := library.Open(flagDB)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	return lib, nil
}
