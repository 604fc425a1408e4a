package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/session"
)

func newSessionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "session <default|extended|programming>",
		Short: "Request a diagnostic session (0x10)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseSessionType(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.StartSession(ctx, t); err != nil {
					return err
				}
				timing := s.Timing()
				printOK(cmd.OutOrStdout(), "%v session", t)
				printKV(cmd.OutOrStdout(), "P2", timing.P2.String())
				printKV(cmd.OutOrStdout(), "P2*", timing.P2Star.String())
				return nil
			})
		},
	}
}

func newReadDIDCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read-did <did>...",
		Short: "Read data by identifier (0x22)",
		Example: `  udsdiag read-did F190 --virtual
  udsdiag read-did 0xF18C 0xF189 --iface can0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dids := make([]uint16, 0, len(args))
			for _, a := range args {
				did, err := parseDID(a)
				if err != nil {
					return err
				}
				dids = append(dids, did)
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				for _, did := range dids {
					data, err := s.ReadDID(ctx, did)
					if err != nil {
						return fmt.Errorf("DID 0x%04X: %w", did, err)
					}
					printKV(cmd.OutOrStdout(), fmt.Sprintf("0x%04X", did), formatData(data))
				}
				return nil
			})
		},
	}
}

func newWriteDIDCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "write-did <did> <hex data>",
		Short:   "Write data by identifier (0x2E)",
		Example: `  udsdiag write-did F123 "01 02 03 04 05 06" --virtual --session extended --level 1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			did, err := parseDID(args[0])
			if err != nil {
				return err
			}
			data, err := parseHexBytes(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.WriteDID(ctx, did, data); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "wrote %d bytes to 0x%04X", len(data), did)
				return nil
			})
		},
	}
}

func newUnlockCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <level>",
		Short: "Run the security access seed/key exchange (0x27)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.SecurityUnlock(ctx, level); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "security level %d %v", level, s.SecurityStatus(level))
				return nil
			})
		},
	}
}

func newResetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [hard|key-off-on|soft]",
		Short: "Reset the ECU (0x11)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "hard"
			if len(args) == 1 {
				name = args[0]
			}
			t, err := parseResetType(name)
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.ECUReset(ctx, t); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "%s reset, session %v", name, s.State())
				return nil
			})
		},
	}
}
