package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-daw/debug"
	"go-daw/sequencer"
)

var (
	exportLoops int
	exportTempo float64
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export <sequence>",
	Short: "Render a saved sequence to a Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().IntVarP(&exportLoops, "loops", "l", 1, "number of passes through the sequence")
	exportCmd.Flags().Float64Var(&exportTempo, "tempo", 0, "tempo written to the file (default from config)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default <sequence>.mid)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return err
	}
	defer debug.Disable()

	store := sequencer.NewStore(cfg.DataDir)
	seq, err := store.LoadSequence(args[0])
	if err != nil {
		return err
	}

	tempo := cfg.Tempo
	if exportTempo > 0 {
		tempo = exportTempo
	}
	path := exportOut
	if path == "" {
		path = strings.TrimSuffix(args[0], ".json") + ".mid"
	}

	if err := sequencer.ExportSMF(seq, cfg.PPQ, tempo, exportLoops, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d steps x %d)\n", path, len(seq.Steps), exportLoops)
	return nil
}
