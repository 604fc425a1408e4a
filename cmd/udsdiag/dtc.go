package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/session"
	"github.com/LoveWonYoung/udsdiag/uds"
)

func newDTCCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dtc",
		Short: "Read and clear diagnostic trouble codes (0x19, 0x14)",
	}
	cmd.AddCommand(newDTCReadCmd(g), newDTCCountCmd(g), newDTCClearCmd(g))
	return cmd
}

func newDTCReadCmd(g *globalFlags) *cobra.Command {
	var (
		mask      string
		supported bool
		snapshot  string
		extended  string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "List DTCs by status mask, or read one DTC's snapshot or extended data",
		Example: `  udsdiag dtc read --mask 0x08 --virtual
  udsdiag dtc read --snapshot 012213 --virtual`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseByte(mask)
			if err != nil {
				return fmt.Errorf("--mask: %w", err)
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				out := cmd.OutOrStdout()
				switch {
				case snapshot != "" || extended != "":
					var data uds.DTCRecordData
					if snapshot != "" {
						code, err := parseDTC(snapshot)
						if err != nil {
							return err
						}
						data, err = s.ReadDTCSnapshot(ctx, code, 0xFF)
						if err != nil {
							return err
						}
					} else {
						code, err := parseDTC(extended)
						if err != nil {
							return err
						}
						data, err = s.ReadDTCExtendedData(ctx, code, 0xFF)
						if err != nil {
							return err
						}
					}
					printDTCs(out, []uds.DTCRecord{data.DTC})
					printKV(out, "records", formatData(data.Data))
					return nil
				case supported:
					records, err := s.ReadSupportedDTCs(ctx)
					if err != nil {
						return err
					}
					printDTCs(out, records)
					return nil
				default:
					records, err := s.ReadDTCs(ctx, m)
					if err != nil {
						return err
					}
					printDTCs(out, records)
					return nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&mask, "mask", "0xFF", "status mask")
	cmd.Flags().BoolVar(&supported, "supported", false, "list every DTC the ECU supports (0x0A)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "read the snapshot records of this DTC (0x04)")
	cmd.Flags().StringVar(&extended, "extended", "", "read the extended data records of this DTC (0x06)")
	return cmd
}

func newDTCCountCmd(g *globalFlags) *cobra.Command {
	var mask string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count DTCs matching a status mask",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseByte(mask)
			if err != nil {
				return fmt.Errorf("--mask: %w", err)
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				count, err := s.ReadDTCCount(ctx, m)
				if err != nil {
					return err
				}
				printKV(cmd.OutOrStdout(), "DTCs", fmt.Sprintf("%d (mask 0x%02X, availability 0x%02X)", count.Count, m, count.AvailabilityMask))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mask, "mask", "0xFF", "status mask")
	return cmd
}

func newDTCClearCmd(g *globalFlags) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear diagnostic information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := uds.GroupAllDTCs
			if group != "" {
				var err error
				if code, err = parseDTC(group); err != nil {
					return fmt.Errorf("--group: %w", err)
				}
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.ClearDTCGroup(ctx, code); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "cleared DTC group 0x%06X", code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "DTC or group to clear (default all)")
	return cmd
}
