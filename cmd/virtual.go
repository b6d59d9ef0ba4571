package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-daw/debug"
	"go-daw/midi"
)

var (
	virtualName string
	virtualSave bool
)

var virtualCmd = &cobra.Command{
	Use:   "virtual",
	Short: "Create a virtual MIDI output port",
	Long: `Create a virtual MIDI output port that other software can read from,
and hold it open until interrupted.

With --save the port is added to the config so serve creates it at startup.

Example:
  go-daw virtual --name "go-daw out" --save
`,
	RunE: runVirtual,
}

func init() {
	virtualCmd.Flags().StringVarP(&virtualName, "name", "n", "go-daw", "name for the virtual MIDI port")
	virtualCmd.Flags().BoolVar(&virtualSave, "save", false, "add the port to the config file")
	rootCmd.AddCommand(virtualCmd)
}

func runVirtual(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return err
	}
	defer debug.Disable()

	if virtualSave && !cfg.HasVirtual(virtualName) {
		cfg.AddVirtual(virtualName)
		if err := cfg.Save(path); err != nil {
			return errors.Wrap(err, "save config")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %q to %s\n", virtualName, path)
	}

	drv, err := rtmididrv.New()
	if err != nil {
		return errors.Wrap(err, "open midi driver")
	}
	defer drv.Close()

	reg := midi.NewRegistry(drv, cfg.PollInterval, debug.New("midi"))
	defer reg.Close()
	if err := reg.CreateVirtual(virtualName); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "virtual port %q open, Ctrl-C to close\n", virtualName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
