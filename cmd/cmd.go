// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nnhost/nnhost/envconfig"
	"github.com/nnhost/nnhost/logutil"

	_ "github.com/nnhost/nnhost/ml/backend"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// initLogger - Installiert den Logger fuer alle Commands
func initLogger(*cobra.Command, []string) {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands. Ohne Subcommand
// verhaelt sich nnhost MODEL wie nnhost run MODEL.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	// Windows-Konsole fuer ANSI-Ausgabe der Fortschrittsanzeige vorbereiten
	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:              "nnhost MODEL",
		Short:            "Neural network inference host",
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: initLogger,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Args: func(cmd *cobra.Command, args []string) error {
			if version, _ := cmd.Flags().GetBool("version"); version {
				return nil
			}
			return modelArg(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return nil
			}

			return RunHandler(cmd, args)
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	addRunFlags(rootCmd)

	// Commands erstellen
	runCmd := newRunCmd()
	showCmd := newShowCmd()
	serveCmd := newServeCmd()
	convertCmd := newConvertCmd()
	createCmd := newCreateCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	loadEnvs := []envconfig.EnvVar{
		envVars["NNHOST_DEBUG"],
		envVars["NNHOST_MODELS"],
		envVars["NNHOST_PRELOAD"],
		envVars["NNHOST_NUM_THREADS"],
	}

	for _, cmd := range []*cobra.Command{rootCmd, runCmd, showCmd, serveCmd, convertCmd, createCmd} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["NNHOST_DEBUG"],
				envVars["NNHOST_HOST"],
				envVars["NNHOST_MODELS"],
				envVars["NNHOST_PRELOAD"],
				envVars["NNHOST_NUM_THREADS"],
				envVars["NNHOST_ORIGINS"],
				envVars["NNHOST_LOAD_TIMEOUT"],
			})
		case convertCmd, createCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["NNHOST_DEBUG"],
				envVars["NNHOST_NUM_THREADS"],
				envVars["NNHOST_NOPROGRESS"],
			})
		default:
			appendEnvDocs(cmd, loadEnvs)
		}
	}

	rootCmd.AddCommand(
		runCmd,
		showCmd,
		serveCmd,
		convertCmd,
		createCmd,
	)

	return rootCmd
}
