package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(selectionCmd)
}

func selectionRun(addr string) error {
	snap, err := fetchSnapshot(addr)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"peer", "status", "offset(s)", "sys.peer"})

	ids := make([]string, 0, len(snap.Peers))
	for id := range snap.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := snap.Peers[id]
		sys := ""
		if id == snap.SelectedPeer {
			sys = color.GreenString("*")
		}
		table.Append([]string{
			p.PeerID,
			colorizeStatus(p.Status),
			fmt.Sprintf("%.9f", p.Offset),
			sys,
		})
	}
	table.Render()

	if !snap.Quorum {
		fmt.Println(color.RedString("no quorum: clock controller not stepped or trimmed this tick"))
	}
	return nil
}

// colorizeStatus matches cmd/ptpcheck/cmd/sources.go's habit of
// coloring a selection table's outcome column.
func colorizeStatus(status string) string {
	switch status {
	case "sys.peer", "candidate":
		return color.GreenString(status)
	case "falsetick":
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

var selectionCmd = &cobra.Command{
	Use:   "selection",
	Short: "Print the Selector's clique outcome for each configured peer",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := selectionRun(rootAddrFlag); err != nil {
			log.Fatal(err)
		}
	},
}
