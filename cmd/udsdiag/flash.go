package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/session"
	"github.com/LoveWonYoung/udsdiag/uds"
)

func newFlashCmd(g *globalFlags) *cobra.Command {
	var skipSession bool
	cmd := &cobra.Command{
		Use:   "flash <image.hex>",
		Short: "Download an Intel HEX image (0x34, 0x36, 0x37)",
		Long: `flash enters the programming session and downloads every segment of
the image. Use --level to unlock a security level before the download.`,
		Example: `  udsdiag flash app.hex --virtual --level 1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := flash.LoadIntelHexFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printKV(out, "image", fmt.Sprintf("%s, %d segments, %d bytes", args[0], len(img.Segments), img.Size()))

			// the programming session must precede --level
			if !skipSession && g.session == "" {
				g.session = uds.ProgrammingSession.String()
			}
			return withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				last := -1
				err := s.Download(ctx, img, func(done, total int) {
					pct := done * 100 / total
					if pct/10 != last/10 || done == total {
						fmt.Fprintf(out, "%s %3d%% %d/%d\n", dimStyle.Render("download"), pct, done, total)
						last = pct
					}
				})
				if err != nil {
					return err
				}
				printOK(out, "downloaded %d bytes", img.Size())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipSession, "no-session", false, "do not enter the programming session first")
	return cmd
}
