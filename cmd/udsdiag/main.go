package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	configPath string
	iface      string
	tx         string
	rx         string
	virtual    bool
	capture    string
	logLevel   string
	logDir     string

	// applied before the command runs
	session string
	level   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "udsdiag",
		Short: "UDS (ISO 14229) diagnostic tester over ISO-TP/CAN",
		Long: `udsdiag talks UDS to one ECU over ISO-TP on SocketCAN, or on an
in-process virtual bus with a simulated ECU (--virtual).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.iface, "iface", "", "SocketCAN interface (overrides link.interface)")
	pf.StringVar(&g.tx, "tx", "", "tester request id, hex or decimal (overrides link.tx_id)")
	pf.StringVar(&g.rx, "rx", "", "ECU response id, hex or decimal (overrides link.rx_id)")
	pf.BoolVar(&g.virtual, "virtual", false, "use a virtual bus with the simulated ECU")
	pf.StringVar(&g.capture, "capture", "", "write all frames to this pcap file")
	pf.StringVar(&g.logLevel, "log-level", "", "disabled, error, warn, info, debug or trace")
	pf.StringVar(&g.logDir, "log-dir", "", "write logs into dated directories below this path")
	pf.StringVar(&g.session, "session", "", "enter this session first (default, extended, programming)")
	pf.StringVar(&g.level, "level", "", "unlock this security level first")

	rootCmd.AddCommand(newSessionCmd(g))
	rootCmd.AddCommand(newReadDIDCmd(g))
	rootCmd.AddCommand(newWriteDIDCmd(g))
	rootCmd.AddCommand(newUnlockCmd(g))
	rootCmd.AddCommand(newRoutineCmd(g))
	rootCmd.AddCommand(newDTCCmd(g))
	rootCmd.AddCommand(newResetCmd(g))
	rootCmd.AddCommand(newFlashCmd(g))
	rootCmd.AddCommand(newSimulateCmd(g))
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}
