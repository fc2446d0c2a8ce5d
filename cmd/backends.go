package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/qpbridge/internal/backends"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List solver backends and their options",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BACKEND\tAVAILABLE\tOPTIONS")
		for _, id := range backends.Supported() {
			b, err := backends.New(string(id), logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%t\t%s\n", id, b.Available(), strings.Join(b.KnownOptions(), ", "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
