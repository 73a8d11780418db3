package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/examprep/examprep/pkg/render/dot"
)

// graphvizCommand creates the graphviz command, a dot-compatible filter
// backed by the embedded graphviz engine. The renderer runs it as a bounded
// child process for DOT sources.
func (c *CLI) graphvizCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graphviz [file]",
		Short: "Render DOT from a file or stdin to stdout",
		Long: `Render a Graphviz DOT source with the embedded engine and write the image
to stdout, like "dot -Tpng". Reads stdin when no file is given.

  examprep graphviz -Tsvg examples/diagrams/respiration.dot > respiration.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := dot.ParseFormat(format)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
			}
			src, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read DOT: %w", err)
			}

			out, err := dot.RenderFormat(cmd.Context(), string(src), f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "T", "png", "output format: png or svg")

	return cmd
}
