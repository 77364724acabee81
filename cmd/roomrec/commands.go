package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/roomrec/internal/archive"
	"github.com/loykin/roomrec/internal/room"
)

// createMergeCommand creates the merge subcommand
func createMergeCommand(globalFlags *GlobalFlags, flags *MergeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <room id or url>",
		Short: "Merge a room's segments into one archive",
		Long: `Concatenate the room's segments in work_dir, ordered by capture time, into
archive_dir/<name>(<id>)/. Segments are removed after a successful merge.
A room held by a running monitor is refused.
With --include-merged the room's earlier archives join the inputs and
nothing is deleted.

Examples:
  roomrec merge 123456
  roomrec merge 123456 --include-merged`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := room.ExtractRoomID(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(globalFlags, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if pid, held := a.locks.Held(roomID); held {
				return fmt.Errorf("room %s is being recorded by pid %d", roomID, pid)
			}
			events, err := a.emitter()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res, err := a.archive.Merge(cmd.Context(), roomID, flags.IncludeMerged)
			a.emitMerge(cmd.Context(), events, roomID, res, err)
			if errors.Is(err, archive.ErrNothingToMerge) {
				_, _ = fmt.Fprintln(out, warnStyle.Render("nothing to merge")+dimStyle.Render(" (fewer than two segments for room "+roomID+")"))
				return nil
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, okStyle.Render("merged")+" "+res.Path)
			_, _ = fmt.Fprintln(out, kv("inputs", len(res.Inputs)))
			_, _ = fmt.Fprintln(out, kv("range", formatRange(res.RangeStart, res.RangeEnd)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.IncludeMerged, "include-merged", false, "also merge existing archives of the room and keep all inputs")
	return cmd
}

func formatRange(start, end int64) string {
	const layout = "2006-01-02 15:04:05"
	return time.Unix(start, 0).Format(layout) + " - " + time.Unix(end, 0).Format(layout)
}

// createDeleteSegmentsCommand creates the delete-segments subcommand
func createDeleteSegmentsCommand(globalFlags *GlobalFlags, flags *DeleteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-segments <room id or url>",
		Short: "Delete a room's unmerged segments",
		Long: `List the room's loose segments in work_dir and delete them after
confirmation. Archives are never touched. A room that is being recorded
is refused.

Examples:
  roomrec delete-segments 123456
  roomrec delete-segments 123456 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := room.ExtractRoomID(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(globalFlags, nil)
			if err != nil {
				return err
			}
			if pid, held := a.locks.Held(roomID); held {
				return fmt.Errorf("room %s is being recorded by pid %d", roomID, pid)
			}

			out := cmd.OutOrStdout()
			n, err := a.archive.DeleteSegments(roomID, func(segs []archive.Segment) bool {
				_, _ = fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d segment(s) of room %s", len(segs), roomID)))
				for _, s := range segs {
					_, _ = fmt.Fprintln(out, "  "+filepath.Base(s.Path)+dimStyle.Render(fmt.Sprintf("  %d bytes", s.Size)))
				}
				if flags.Yes {
					return true
				}
				return confirm(cmd.InOrStdin(), out, "Delete these files?")
			})
			switch {
			case errors.Is(err, archive.ErrNotConfirmed):
				_, _ = fmt.Fprintln(out, dimStyle.Render("aborted, nothing deleted"))
				return nil
			case err != nil:
				return err
			case n == 0:
				_, _ = fmt.Fprintln(out, dimStyle.Render("no segments for room "+roomID))
				return nil
			}
			_, _ = fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("deleted %d segment(s)", n)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.Yes, "yes", "y", false, "delete without asking")
	return cmd
}

// createOrganizeCommand creates the organize subcommand
func createOrganizeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "organize",
		Short: "Move recordings into the archive layout",
		Long: `Sweep work_dir and the archive directories once, renaming files of every
known naming scheme to <name>(<id>)<unix>.<ext> under
archive_dir/<name>(<id>)/. Duplicates are removed, name conflicts get a
numeric suffix, and rooms that are being recorded are skipped.

Examples:
  roomrec organize
  ROOMREC_ORGANIZER_SETTLE=0s roomrec organize`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(globalFlags, nil)
			if err != nil {
				return err
			}
			rep, err := a.organizer().Sweep(cmd.Context())
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, titleStyle.Render("organize"))
			_, _ = fmt.Fprintln(out, kv("moved", rep.Moved))
			_, _ = fmt.Fprintln(out, kv("conflicts", rep.Conflicts))
			_, _ = fmt.Fprintln(out, kv("duplicates", rep.Duplicates))
			_, _ = fmt.Fprintln(out, kv("skipped", rep.Skipped))
			return err
		},
	}
}

// createRoomsCommand creates the rooms subcommand
func createRoomsCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List configured rooms",
		Long: `List the rooms from rooms_file and [[rooms]] config entries with their
display names and whether a monitor currently holds the room.

Examples:
  roomrec rooms --config=roomrec.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(globalFlags, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			entries := a.roster.Entries()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, dimStyle.Render("no rooms configured"))
				return nil
			}
			idW := len("ROOM")
			for _, e := range entries {
				idW = max(idW, len(e.ID))
			}
			_, _ = fmt.Fprintln(out, titleStyle.Render(pad("ROOM", idW)+"  NAME"))
			for _, e := range entries {
				state := dimStyle.Render("idle")
				if pid, held := a.locks.Held(e.ID); held {
					state = okStyle.Render(fmt.Sprintf("monitored (pid %d)", pid))
				}
				name := e.Name
				if name == "" {
					name = dimStyle.Render("-")
				}
				_, _ = fmt.Fprintln(out, " "+pad(e.ID, idW)+"  "+name+"  "+state)
			}
			return nil
		},
	}
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
