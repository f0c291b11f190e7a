package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(p *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sotctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(p.out, "sotctl %s\n", Version)
			return err
		},
	}
}
