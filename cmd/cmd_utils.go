// cmd_utils.go - Hilfsfunktionen fuer Commands
// Hauptfunktionen: modelArg, loadFlags, encodingFor, newProgressBar
package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nnhost/nnhost/envconfig"
	"github.com/nnhost/nnhost/ml"
)

// modelArg - Verlangt genau ein MODEL-Argument
func modelArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one MODEL argument, got %d\n\nUsage:\n  %s", len(args), cmd.UseLine())
	}
	return nil
}

// loadFlags - Liest Encoding, Target und Threads aus den Flags
func loadFlags(cmd *cobra.Command) (ml.GraphEncoding, ml.ExecutionTarget, []ml.LoadOption, error) {
	encodingFlag, err := cmd.Flags().GetString("encoding")
	if err != nil {
		return 0, 0, nil, err
	}

	encoding, err := ml.ParseGraphEncoding(encodingFlag)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid --encoding: %w", err)
	}

	targetFlag, err := cmd.Flags().GetString("target")
	if err != nil {
		return 0, 0, nil, err
	}

	target, err := ml.ParseExecutionTarget(targetFlag)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid --target: %w", err)
	}

	threads, err := cmd.Flags().GetInt("threads")
	if err != nil {
		return 0, 0, nil, err
	}

	return encoding, target, []ml.LoadOption{ml.WithNumThreads(threads)}, nil
}

// encodingFor - Bestimmt das Ziel-Encoding aus --to oder der Dateiendung
func encodingFor(cmd *cobra.Command, path string) (ml.GraphEncoding, error) {
	to, err := cmd.Flags().GetString("to")
	if err != nil {
		return 0, err
	}

	if to == "" {
		if strings.EqualFold(filepath.Ext(path), ".gguf") {
			return ml.EncodingGGML, nil
		}
		return ml.EncodingMLX, nil
	}

	encoding, err := ml.ParseGraphEncoding(to)
	if err != nil {
		return 0, fmt.Errorf("invalid --to: %w", err)
	}

	switch encoding {
	case ml.EncodingGGML, ml.EncodingMLX:
		return encoding, nil
	default:
		return 0, fmt.Errorf("invalid --to: cannot write %v", encoding)
	}
}

// dtypeFlag - Liest den Tensor-Typ aus --dtype
func dtypeFlag(cmd *cobra.Command) (ml.DType, error) {
	s, err := cmd.Flags().GetString("dtype")
	if err != nil {
		return 0, err
	}

	dtype, err := ml.ParseDType(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --dtype: %w", err)
	}
	return dtype, nil
}

// newProgressBar - Fortschrittsanzeige fuer Tensor-Schleifen. Gibt nil
// zurueck, wenn NNHOST_NOPROGRESS gesetzt ist oder w kein Terminal ist.
func newProgressBar(w io.Writer, description string) *progressbar.ProgressBar {
	if envconfig.NoProgress() {
		return nil
	}

	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// progressFunc - Verbindet den Fortschritt von convert mit der Anzeige
func progressFunc(bar *progressbar.ProgressBar) func(name string, done, total int) {
	return func(name string, done, total int) {
		if bar == nil {
			return
		}

		if bar.GetMax() != total {
			bar.ChangeMax(total)
		}
		bar.Describe(name)
		bar.Set(done) //nolint:errcheck
	}
}

// artifactSize - Groesse einer Datei oder Summe eines Shard-Verzeichnisses
func artifactSize(path string) (uint64, error) {
	var size uint64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			size += uint64(fi.Size())
		}
		return nil
	})
	return size, err
}

// fileSize - Groesse einer Datei, 0 bei Fehlern
func fileSize(path string) uint64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(fi.Size())
}
