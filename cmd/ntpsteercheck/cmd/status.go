package cmd

import (
	"fmt"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

func statusRun(addr string) error {
	snap, err := fetchSnapshot(addr)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	quorum := color.RedString("no")
	if snap.Quorum {
		quorum = color.GreenString("yes")
	}
	fmt.Printf("as of:     %s\n", snap.At.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("quorum:    %s\n", quorum)
	fmt.Printf("sys peer:  %s\n", snap.SelectedPeer)
	fmt.Printf("decision:  %s\n", snap.Decision)
	fmt.Printf("peers:     %d\n", len(snap.Peers))
	fmt.Printf("poll exp:  %d\n", snap.PollExponent)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the clock-control pipeline's current overall status",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := statusRun(rootAddrFlag); err != nil {
			log.Fatal(err)
		}
	},
}
