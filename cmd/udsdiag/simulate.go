package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/capture"
	"github.com/LoveWonYoung/udsdiag/config"
	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/ecusim"
)

func newSimulateCmd(g *globalFlags) *cobra.Command {
	var pending int
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve the simulated ECU on a CAN interface",
		Long: `simulate answers requests on --tx and responds on --rx, so a second
udsdiag (or any tester) on the same interface can talk to it. Try it on a
vcan interface:

  ip link add dev vcan0 type vcan && ip link set vcan0 up
  udsdiag simulate --iface vcan0 &
  udsdiag read-did F190 --iface vcan0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if cfg.Link.Virtual {
				return errors.New("simulate needs a CAN interface; the virtual bus already runs the simulator in process")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulator(ctx, cmd, cfg, pending)
		},
	}
	cmd.Flags().IntVar(&pending, "pending", -1, "response pending replies before routine 0xFF01 answers (-1 keeps the default)")
	return cmd
}

func runSimulator(ctx context.Context, cmd *cobra.Command, cfg *config.Config, pending int) error {
	rec, err := newRecorder(cfg)
	if err != nil {
		return err
	}
	defer rec.Close()

	tester, err := cfg.Address()
	if err != nil {
		return err
	}
	addr := tester.Reverse()
	var bus driver.Bus
	sc, err := driver.OpenSocketCAN(cfg.Link.Interface, driver.ExactFilter(addr.RxID, addr.Is29Bit()))
	if err != nil {
		return err
	}
	bus = sc
	if cfg.Capture.File != "" {
		rb, err := capture.CreateFile(sc, cfg.Capture.File)
		if err != nil {
			sc.Close()
			return err
		}
		bus = rb
	}
	defer bus.Close()

	simCfg := ecusim.DefaultConfig()
	if pending >= 0 {
		r := simCfg.Routines[0xFF01]
		r.PendingReplies = pending
		simCfg.Routines[0xFF01] = r
	}
	ecu, err := ecusim.New(bus, addr, cfg.TPConfig(), simCfg, rec)
	if err != nil {
		return err
	}
	printOK(cmd.OutOrStdout(), "simulated ECU on %s (requests 0x%X, responses 0x%X)", cfg.Link.Interface, addr.RxID, addr.TxID)
	if err := ecu.Run(ctx); err != nil {
		return fmt.Errorf("simulator stopped: %w", err)
	}
	printKV(cmd.OutOrStdout(), "requests", fmt.Sprint(ecu.Requests()))
	return nil
}
