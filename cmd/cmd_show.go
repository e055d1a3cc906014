// cmd_show.go - Show Command und Modell-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nnhost/nnhost/convert"
	"github.com/nnhost/nnhost/envconfig"
	"github.com/nnhost/nnhost/ml"
)

// ShowHandler - Zeigt Signatur und Metadaten eines Modells an
func ShowHandler(cmd *cobra.Command, args []string) error {
	encoding, target, opts, err := loadFlags(cmd)
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	g, err := ml.Load(cmd.Context(), encoding, target, args[0], opts...)
	if err != nil {
		return err
	}
	defer g.Close()

	m, err := convert.LoadModel(cmd.Context(), g.Path(), g.Encoding(), convert.WithNumThreads(envconfig.NumThreads()))
	if err != nil {
		return err
	}

	size, err := artifactSize(g.Path())
	if err != nil {
		return err
	}

	return showInfo(cmd.OutOrStdout(), g, m, size, verbose)
}

// showInfo - Gibt detaillierte Modell-Informationen aus
func showInfo(w io.Writer, g *ml.Graph, m *convert.Model, size uint64, verbose bool) error {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")

		if header == "Metadata" {
			table.SetColWidth(100)
		}

		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	tableRender("Model", func() (rows [][]string) {
		rows = append(rows, []string{"", "architecture", m.KV.Architecture()})
		if name := m.KV.String("general.name"); name != "" {
			rows = append(rows, []string{"", "name", name})
		}
		rows = append(rows, []string{"", "encoding", g.Encoding().String()})
		rows = append(rows, []string{"", "target", g.Target().String()})
		rows = append(rows, []string{"", "path", g.Path()})
		rows = append(rows, []string{"", "size", humanize.Bytes(size)})
		rows = append(rows, []string{"", "parameters", humanize.Comma(int64(m.Params.NumValues()))})
		rows = append(rows, []string{"", "tensors", humanize.Comma(int64(m.Params.Len()))})
		return
	})

	slots := func(specs []ml.TensorSpec) func() [][]string {
		return func() (rows [][]string) {
			for _, s := range specs {
				rows = append(rows, []string{"", s.Name, s.Type.String(), fmt.Sprint(s.Shape), humanize.Bytes(uint64(s.Size()))})
			}
			return
		}
	}

	sig := g.Signature()
	tableRender("Inputs", slots(sig.Inputs))
	tableRender("Outputs", slots(sig.Outputs))

	if verbose {
		tableRender("Metadata", func() (rows [][]string) {
			for _, k := range slices.Collect(m.KV.Keys()) {
				rows = append(rows, []string{"", k, fmt.Sprint(m.KV.Value(k))})
			}
			return
		})

		tableRender("Tensors", func() (rows [][]string) {
			for _, name := range m.Params.Names() {
				p, _ := m.Params.Get(name)
				rows = append(rows, []string{"", name, fmt.Sprint(p.Shape)})
			}
			return
		})
	}

	return nil
}
