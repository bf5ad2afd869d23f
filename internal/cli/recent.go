package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRecentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show and manage recently opened files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRecent(a, cmd)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRecent(a, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <file-ssid>...",
		Short: "Remove entries from the recent files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed := 0
			for _, ssid := range args {
				for _, rf := range a.recent.RecentFiles() {
					if rf.FileSSID != ssid {
						continue
					}
					if err := a.recent.RemoveRecentFile(rf); err != nil {
						return err
					}
					removed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget all recent files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.recent.ClearRecentFiles(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recent files cleared")
			return nil
		},
	})
	return cmd
}

func listRecent(a *app, cmd *cobra.Command) error {
	files := a.recent.RecentFiles()
	out := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintln(out, "No recent files")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCESSED\tSSID\tPROJECT\tPATH")
	for _, rf := range files {
		parts := make([]string, 0, len(rf.PathComponents)+1)
		for _, pc := range rf.PathComponents {
			parts = append(parts, pc.Name)
		}
		parts = append(parts, rf.FileName)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rf.AccessDate.Local().Format("2006-01-02 15:04"),
			rf.FileSSID, rf.ProjectFolderName, strings.Join(parts, "/"))
	}
	return w.Flush()
}
