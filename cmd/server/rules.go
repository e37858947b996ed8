package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aniketchurihar/CardioGenie/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Load the symptom dataset and print the rule catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog := rules.LoadFile(cfg.Rules.DatasetPath, slog.Default())

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d symptoms loaded from %s\n", catalog.Len(), cfg.Rules.DatasetPath)
		for _, r := range catalog.Rules() {
			fmt.Fprintf(out, "\n%s\n  keywords: %s\n", r.Symptom, strings.Join(r.Keywords, ", "))
			for i, q := range r.Questions {
				fmt.Fprintf(out, "  %d. %s\n", i+1, q)
			}
		}
		return nil
	},
}
