// Command ntpsteercheck is a diagnostic CLI against a running
// ntpsteerd's JSON status endpoint, the ntpsteerd equivalent of
// cmd/ptpcheck: a thin main that hands off to the cmd package's cobra
// RootCmd.
package main

import "github.com/ntpsteer/ntpsteerd/cmd/ntpsteercheck/cmd"

func main() {
	cmd.Execute()
}
