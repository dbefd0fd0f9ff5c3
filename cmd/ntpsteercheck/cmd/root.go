package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is ntpsteercheck's entry point, exported so it can be
// extended without touching the subcommands, following
// cmd/ptpcheck/cmd.RootCmd.
var RootCmd = &cobra.Command{
	Use:   "ntpsteercheck",
	Short: "Swiss Army Knife for ntpsteerd",
}

var rootVerboseFlag bool
var rootAddrFlag string

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootAddrFlag, "addr", "a", "http://localhost:4269", "ntpsteerd JSON status endpoint")
}

// ConfigureVerbosity sets log verbosity from the parsed flags; every
// subcommand calls this first, same as ptpcheck's subcommands do.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute runs the CLI.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
