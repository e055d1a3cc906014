// cmd_convert.go - Convert und Create Commands
// Hauptfunktionen: ConvertHandler, CreateHandler
package cmd

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nnhost/nnhost/convert"
	"github.com/nnhost/nnhost/ml/nn"
)

// ConvertHandler - Konvertiert ein Modell nach Safetensors oder GGUF.
// PyTorch-Checkpoints brauchen --arch, da sie keine Metadaten tragen.
func ConvertHandler(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]

	to, err := encodingFor(cmd, dst)
	if err != nil {
		return err
	}

	dtype, err := dtypeFlag(cmd)
	if err != nil {
		return err
	}

	threads, err := cmd.Flags().GetInt("threads")
	if err != nil {
		return err
	}

	kv, err := setFlags(cmd)
	if err != nil {
		return err
	}

	if arch, _ := cmd.Flags().GetString("arch"); arch != "" {
		kv["general.architecture"] = arch
	}

	bar := newProgressBar(cmd.ErrOrStderr(), "converting")
	err = convert.ConvertModel(cmd.Context(), src, dst, to,
		convert.WithKV(kv),
		convert.WithDType(dtype),
		convert.WithNumThreads(threads),
		convert.WithProgress(progressFunc(bar)))
	if bar != nil {
		bar.Finish() //nolint:errcheck
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "converted %s to %s (%v, %s)\n", src, dst, to, humanize.Bytes(fileSize(dst)))
	return nil
}

var errInvalidSet = errors.New("invalid --set, expected key=value")

// setFlags - Sammelt die --set Werte als Metadaten
func setFlags(cmd *cobra.Command) (convert.KV, error) {
	sets, _ := cmd.Flags().GetStringArray("set")
	md := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidSet, s)
		}
		md[k] = v
	}

	return convert.ParseMetadata(md), nil
}

// CreateHandler - Erstellt ein zufaellig initialisiertes Modell
func CreateHandler(cmd *cobra.Command, args []string) error {
	arch, dst := args[0], args[1]

	to, err := encodingFor(cmd, dst)
	if err != nil {
		return err
	}

	dtype, err := dtypeFlag(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))
	}

	seed, _ := cmd.Flags().GetUint64("seed")
	if !cmd.Flags().Changed("seed") {
		seed = rand.Uint64()
	}

	var m *convert.Model
	if graph, _ := cmd.Flags().GetString("graph"); graph != "" {
		if arch != nn.DefaultArchitecture {
			return fmt.Errorf("--graph requires the %s architecture, got %s", nn.DefaultArchitecture, arch)
		}

		bts, err := os.ReadFile(graph)
		if err != nil {
			return err
		}

		d, err := nn.ParseDefinition(bts)
		if err != nil {
			return err
		}

		if m, err = convert.Sequential(name, d, seed); err != nil {
			return err
		}
	} else {
		kv, err := setFlags(cmd)
		if err != nil {
			return err
		}

		kv["general.architecture"] = arch
		kv["general.name"] = name

		if m, err = convert.New(kv, seed); err != nil {
			return err
		}
	}

	bar := newProgressBar(cmd.ErrOrStderr(), "writing")
	err = convert.WriteModel(dst, m, to, convert.WithDType(dtype), convert.WithProgress(progressFunc(bar)))
	if bar != nil {
		bar.Finish() //nolint:errcheck
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s model %q with %s parameters at %s (%s)\n",
		arch, name, humanize.Comma(int64(m.Params.NumValues())), dst, humanize.Bytes(fileSize(dst)))
	return nil
}
