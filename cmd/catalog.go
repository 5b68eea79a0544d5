package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"boardsync/core/catalog"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the board's tracks and track types",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := catalog.NewClient(cfg.APIBaseURL, cfg.Token)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		types, err := client.TrackTypes(ctx)
		if err != nil {
			return err
		}
		files, err := client.Files(ctx)
		if err != nil {
			return err
		}

		typeNames := make(map[string]string, len(types))
		for _, t := range types {
			typeNames[t.ID] = t.Name
		}
		seed := catalog.BuildSeed(files, types)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tREPEAT\tSTREAM")
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", f.ID, f.Name, typeNames[f.TypeID], seed.Repeating[f.ID], client.StreamURL(f.ID))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d track(s), %d type(s)\n", len(files), len(types))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
