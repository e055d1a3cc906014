// cmd_run.go - Run Command Handler
// Hauptfunktionen: RunHandler, printResult
package cmd

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/session"
)

// RunHandler - Laedt das Modell, bindet Eingaben, rechnet und gibt die
// Ausgaben aus. Fehler tragen die Stufe, in der sie aufgetreten sind.
func RunHandler(cmd *cobra.Command, args []string) error {
	encoding, target, opts, err := loadFlags(cmd)
	if err != nil {
		return err
	}

	inputs, err := cmd.Flags().GetStringArray("input")
	if err != nil {
		return err
	}

	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("seed") {
		seed = rand.Uint64()
	}

	precision, err := cmd.Flags().GetInt("precision")
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	var src session.InputSource = session.NewRandomSource(seed)
	if len(inputs) > 0 {
		src = session.FileSource(inputs)
	}

	r, err := session.Run(cmd.Context(), session.Request{
		Name:     args[0],
		Encoding: encoding,
		Target:   target,
		Inputs:   src,
		Options:  opts,
	})
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), args[0], r, precision, verbose)
	return nil
}

// printResult - Gibt die Stufen einer Sitzung und die Ausgaben aus
func printResult(w io.Writer, name string, r *session.Result, precision int, verbose bool) {
	fmt.Fprintln(w, "model_bin_name", name)
	fmt.Fprintln(w, "Loaded graph with ID:", r.GraphID)
	fmt.Fprintln(w, "Created execution context with ID:", r.ContextID)
	for i, t := range r.Inputs {
		fmt.Fprintf(w, "Read input tensor %q, size in bytes: %d\n", r.Signature.Inputs[i].Name, len(t.Data))
	}
	fmt.Fprintln(w, "Executed graph inference")
	if verbose {
		fmt.Fprintln(w, "inference duration:", r.Elapsed)
	}

	for i, t := range r.Outputs {
		spec := r.Signature.Outputs[i]
		fmt.Fprintf(w, "Output tensor %q %v %v:\n", spec.Name, spec.Shape, spec.Type)
		fmt.Fprintln(w, ml.Dump(t, ml.DumpWithPrecision(precision)))
	}
}
