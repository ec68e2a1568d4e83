package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"llmproxy/internal/core"
	"llmproxy/internal/modeldata"
)

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions [provider]",
		Short: "List the model versions accepted for each provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list := core.Providers()
			if len(args) == 1 {
				p, ok := core.ParseProviderType(args[0])
				if !ok {
					return fmt.Errorf("unknown provider %q", args[0])
				}
				list = []core.ProviderType{p}
			}

			validator := modeldata.NewValidator()
			out := cmd.OutOrStdout()
			for i, p := range list {
				if i > 0 {
					fmt.Fprintln(out)
				}
				def := validator.DefaultVersion(p)
				fmt.Fprintf(out, "%s (default %s)\n", p.Name(), def)
				for _, v := range validator.SupportedVersions(p) {
					marker := " "
					if v == def {
						marker = "*"
					}
					fmt.Fprintf(out, "  %s %s\n", marker, v)
				}
			}
			return nil
		},
	}
}
