package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"

	"go-daw/clock"
	"go-daw/config"
	"go-daw/debug"
	"go-daw/midi"
	"go-daw/sequencer"
	"go-daw/syncbus"
	"go-daw/tui"
)

var (
	serveTempo   float64
	serveListen  string
	serveProject string
	servePlay    bool
	serveTUI     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sequencer engine",
	Long: `Run the clock, device registry, sequencer and sync bus until interrupted.

Remote UIs connect to ws://<listen>/message-bus for beat labels and ticks.

Example:
  go-daw serve --tui --project "live set" --play
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Float64Var(&serveTempo, "tempo", 0, "initial tempo in BPM (overrides config)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "sync bus address, empty string disables (overrides config)")
	serveCmd.Flags().StringVarP(&serveProject, "project", "p", "", "load a saved project at startup")
	serveCmd.Flags().BoolVar(&servePlay, "play", false, "start every loaded sequence")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "show the terminal monitor")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tempo") {
		cfg.Tempo = serveTempo
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = serveListen
	}

	// the monitor owns the terminal, so logs go to a file
	var fallback *os.File
	if !serveTUI {
		fallback = os.Stderr
	}
	if err := setupLogging(cfg, fallback); err != nil {
		return errors.Wrap(err, "setup logging")
	}
	defer debug.Disable()
	log := debug.New("serve")

	drv, err := rtmididrv.New()
	if err != nil {
		return errors.Wrap(err, "open midi driver")
	}
	defer drv.Close()

	reg := midi.NewRegistry(drv, cfg.PollInterval, debug.New("midi"))
	for _, name := range cfg.VirtualDevices {
		if err := reg.CreateVirtual(name); err != nil {
			log.Warn("virtual device", "name", name, "err", err)
		}
	}
	disp := midi.NewDispatcher(reg, debug.New("dispatch"))

	clk := clock.New(cfg.Tempo, cfg.PPQ, debug.New("clock"))
	bus := syncbus.New(64, debug.New("bus"))
	mgr := sequencer.NewManager(sequencer.Options{
		Clock:         clk,
		Output:        disp,
		Bus:           bus,
		Store:         sequencer.NewStore(cfg.DataDir),
		DefaultDevice: cfg.DefaultDevice,
		Logger:        debug.New("sequencer"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return clk.Run(ctx) })
	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error {
		// drain queued note-offs before ports close
		defer disp.Close()
		return mgr.Run(ctx)
	})

	if cfg.Listen != "" {
		g.Go(func() error {
			log.Info("sync bus listening", "addr", cfg.Listen)
			return errors.Wrap(syncbus.Serve(ctx, cfg.Listen, syncbus.NewWSHandler(bus, debug.New("ws"))), "sync bus")
		})
	}
	if len(cfg.OSCTargets) > 0 {
		fwd := syncbus.NewOSCForwarder(bus, oscTargets(cfg.OSCTargets), debug.New("osc"))
		g.Go(func() error { return fwd.Run(ctx) })
	}
	if serveProject != "" {
		g.Go(func() error { return startProject(ctx, mgr, serveProject, servePlay) })
	}
	if serveTUI {
		g.Go(func() error {
			defer stop()
			return tui.Run(ctx, mgr, reg, bus)
		})
	}

	log.Info("running", "tempo", clk.Tempo(), "ppq", cfg.PPQ, "data", cfg.DataDir)
	err = g.Wait()
	reg.Close()
	log.Info("stopped")
	return err
}

func startProject(ctx context.Context, mgr *sequencer.Manager, project string, play bool) error {
	if err := mgr.LoadProject(ctx, project); err != nil {
		return err
	}
	if !play {
		return nil
	}
	return mgr.PlayAll(ctx)
}

func oscTargets(in []config.OSCTarget) []syncbus.Target {
	out := make([]syncbus.Target, 0, len(in))
	for _, t := range in {
		out = append(out, syncbus.Target{Host: t.Host, Port: t.Port})
	}
	return out
}
