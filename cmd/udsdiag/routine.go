package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/session"
)

func newRoutineCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routine",
		Short: "Routine control (0x31)",
	}
	var params string

	run := func(name string, call func(context.Context, *session.Session, uint16, []byte) ([]byte, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   name + " <routine id>",
			Short: name + " a routine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseDID(args[0])
				if err != nil {
					return err
				}
				var data []byte
				if params != "" {
					if data, err = parseHexBytes(params); err != nil {
						return err
					}
				}
				return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
					record, err := call(ctx, s, id, data)
					if err != nil {
						return err
					}
					printOK(cmd.OutOrStdout(), "routine 0x%04X %s", id, name)
					printKV(cmd.OutOrStdout(), "status", formatData(record))
					return nil
				})
			},
		}
		return c
	}

	start := run("start", func(ctx context.Context, s *session.Session, id uint16, p []byte) ([]byte, error) {
		return s.StartRoutine(ctx, id, p)
	})
	start.Flags().StringVar(&params, "params", "", "routine option record as hex")
	stop := run("stop", func(ctx context.Context, s *session.Session, id uint16, p []byte) ([]byte, error) {
		return s.StopRoutine(ctx, id, p)
	})
	stop.Flags().StringVar(&params, "params", "", "routine option record as hex")
	results := run("results", func(ctx context.Context, s *session.Session, id uint16, _ []byte) ([]byte, error) {
		return s.RoutineResults(ctx, id)
	})

	cmd.AddCommand(start, stop, results)
	return cmd
}
