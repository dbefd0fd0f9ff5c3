package cmd

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(peersCmd)
}

func peersRun(addr string) error {
	snap, err := fetchSnapshot(addr)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"peer", "status", "usable", "offset(s)", "freq error", "sqrt(p00)", "sqrt(p11)", "valid at"})

	ids := make([]string, 0, len(snap.Peers))
	for id := range snap.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := snap.Peers[id]
		table.Append([]string{
			p.PeerID,
			p.Status,
			fmt.Sprintf("%v", p.Usable),
			fmt.Sprintf("%.9f", p.Offset),
			fmt.Sprintf("%.3g", p.FreqError),
			fmt.Sprintf("%.3g", math.Sqrt(math.Max(p.P00, 0))),
			fmt.Sprintf("%.3g", math.Sqrt(math.Max(p.P11, 0))),
			p.ValidAt.Format("15:04:05.000"),
		})
	}
	table.Render()
	return nil
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Print each configured peer's filter state",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := peersRun(rootAddrFlag); err != nil {
			log.Fatal(err)
		}
	},
}
