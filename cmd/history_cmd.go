package cmd

import (
	"github.com/spf13/cobra"
)

var historyCount int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent run records",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.History(historyCount)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 20, "number of records to show")
}
