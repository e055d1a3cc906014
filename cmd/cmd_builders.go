// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newShowCmd, newConvertCmd, newCreateCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// addLoadFlags - Flags fuer alle Commands, die einen Graphen laden
func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().String("encoding", "autodetect", "Graph encoding (ggml, mlx or autodetect)")
	cmd.Flags().String("target", "cpu", "Execution target (cpu, gpu, tpu or auto)")
	cmd.Flags().Int("threads", 0, "Number of CPU threads (default NNHOST_NUM_THREADS)")
}

// addRunFlags - Flags fuer run und den Root Command
func addRunFlags(cmd *cobra.Command) {
	addLoadFlags(cmd)
	cmd.Flags().Uint64("seed", 0, "Seed for random inputs (default: random)")
	cmd.Flags().StringArray("input", nil, "Raw little-endian input file, one per input slot")
	cmd.Flags().Int("precision", 4, "Decimal places of printed outputs")
	cmd.Flags().Bool("verbose", false, "Show timings")
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Run one inference on a model",
		Args:  modelArg,
		RunE:  RunHandler,
	}

	addRunFlags(runCmd)
	return runCmd
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show the signature and metadata of a model",
		Args:  modelArg,
		RunE:  ShowHandler,
	}

	addLoadFlags(showCmd)
	showCmd.Flags().Bool("verbose", false, "Show all metadata")
	return showCmd
}

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Convert a model to safetensors (mlx) or gguf (ggml)",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().String("to", "", "Target encoding (default: from the DST extension)")
	convertCmd.Flags().String("dtype", "f32", "Tensor type of the written weights (f32, f16, bf16 or f64)")
	convertCmd.Flags().Int("threads", 0, "Number of parallel readers")
	convertCmd.Flags().String("arch", "", "Architecture for sources without metadata (pytorch)")
	convertCmd.Flags().StringArray("set", nil, "Metadata as key=value for sources without metadata")
	return convertCmd
}

// newCreateCmd - Erstellt den create Command
func newCreateCmd() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create ARCH DST",
		Short: "Create a randomly initialized model of a registered architecture",
		Args:  cobra.ExactArgs(2),
		RunE:  CreateHandler,
	}

	createCmd.Flags().String("name", "", "Model name stored in the metadata")
	createCmd.Flags().StringP("graph", "f", "", "Graph definition (JSON) for the sequential architecture")
	createCmd.Flags().StringArray("set", nil, "Architecture option as key=value, e.g. hidden_size=64")
	createCmd.Flags().Uint64("seed", 0, "Seed for the weight initialization")
	createCmd.Flags().String("to", "", "Target encoding (default: from the DST extension)")
	createCmd.Flags().String("dtype", "f32", "Tensor type of the written weights (f32, f16, bf16 or f64)")
	return createCmd
}
