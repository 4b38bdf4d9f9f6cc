package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pillarpond/facerecognizer/internal/labels"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := labels.NewFileStore(cfg.LabelPath()).ReadAll()
		if err != nil {
			return err
		}

		if len(names) == 0 {
			fmt.Println("No identities enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "LABEL\tNAME")
		fmt.Fprintln(w, "-----\t----")
		for i, name := range names {
			fmt.Fprintf(w, "%d\t%s\n", i, name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
