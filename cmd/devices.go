package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-daw/debug"
	"go-daw/midi"
)

var (
	devicesWatch bool
	devicesPing  string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List MIDI output ports",
	Long: `List the MIDI output ports go-daw can send to, by the names sequences use.

With --watch, keep polling and print ports as they appear and disappear.
With --ping, play a short middle C on the named port.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVarP(&devicesWatch, "watch", "w", false, "poll for device changes until interrupted")
	devicesCmd.Flags().StringVar(&devicesPing, "ping", "", "send a test note to this device")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return err
	}
	defer debug.Disable()

	drv, err := rtmididrv.New()
	if err != nil {
		return errors.Wrap(err, "open midi driver")
	}
	defer drv.Close()

	reg := midi.NewRegistry(drv, cfg.PollInterval, debug.New("midi"))
	defer reg.Close()
	reg.Poll()

	out := cmd.OutOrStdout()
	names := reg.List()
	if len(names) == 0 {
		fmt.Fprintln(out, "no MIDI output ports")
	}
	for _, name := range names {
		fmt.Fprintf(out, "  %-32s %s\n", name, midi.Key(name))
	}

	if devicesPing != "" {
		if err := ping(reg, devicesPing); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent C-4 to %s\n", devicesPing)
	}

	if !devicesWatch {
		return nil
	}

	// already listed
	for len(reg.Events()) > 0 {
		<-reg.Events()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()
	for ev := range reg.Events() {
		fmt.Fprintf(out, "%s %s\n", ev.Type, ev.Name)
	}
	return <-done
}

func ping(reg *midi.Registry, device string) error {
	if err := reg.Send(device, gomidi.NoteOn(0, 60, 100)); err != nil {
		return err
	}
	time.Sleep(250 * time.Millisecond)
	return reg.Send(device, gomidi.NoteOff(0, 60))
}
