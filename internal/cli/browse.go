package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sparkleshare/sparkleshare-go/pkg/models"
	"github.com/sparkleshare/sparkleshare-go/pkg/tree"
)

// itemsWaiter and fileWaiter turn tree delegate callbacks into channel sends.
type itemsWaiter chan error

func (w itemsWaiter) FolderItemsLoaded(*tree.Folder, []tree.Node)        { w <- nil }
func (w itemsWaiter) FolderItemsLoadingFailed(_ *tree.Folder, err error) { w <- err }

type fileWaiter struct {
	loaded chan error
	saved  chan error
}

func (w fileWaiter) FileContentLoaded(*tree.File, []byte)             { w.loaded <- nil }
func (w fileWaiter) FileContentLoadingFailed(_ *tree.File, err error) { w.loaded <- err }
func (w fileWaiter) FileContentSaved(*tree.File)                      { w.saved <- nil }
func (w fileWaiter) FileContentSavingFailed(_ *tree.File, err error)  { w.saved <- err }

func newFileWaiter(f *tree.File) fileWaiter {
	w := fileWaiter{loaded: make(chan error, 1), saved: make(chan error, 1)}
	f.SetDelegate(w)
	return w
}

func await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func loadItems(ctx context.Context, f *tree.Folder) error {
	w := make(itemsWaiter, 1)
	f.SetItemsDelegate(w)
	f.LoadItems()
	if err := await(ctx, w); err != nil {
		return fmt.Errorf("list %s: %w", f.Name(), err)
	}
	return nil
}

func (a *app) root() *tree.Folder {
	return tree.NewRootFolder(a.conn, a.recent)
}

// find walks the dashboard breadth first, listing folders until a node
// with ssid turns up.
func (a *app) find(ctx context.Context, ssid string) (tree.Node, error) {
	root := a.root()
	queue := []*tree.Folder{root}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if err := loadItems(ctx, f); err != nil {
			return nil, err
		}
		for _, n := range f.Items() {
			if n.SSID() == ssid {
				return n, nil
			}
			if sub, ok := n.(*tree.Folder); ok {
				queue = append(queue, sub)
			}
		}
	}
	return nil, fmt.Errorf("%s: not found", ssid)
}

// openFile resolves ssid to a File, through the recent list when possible.
func (a *app) openFile(ctx context.Context, ssid string) (*tree.File, error) {
	for _, rf := range a.recent.RecentFiles() {
		if rf.FileSSID == ssid {
			return tree.OpenRecent(a.root(), rf), nil
		}
	}
	n, err := a.find(ctx, ssid)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*tree.File)
	if !ok {
		return nil, fmt.Errorf("%s is a folder", ssid)
	}
	return f, nil
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder-ssid]",
		Short: "List projects, or the contents of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLinked(); err != nil {
				return err
			}
			ctx := cmd.Context()
			folder := a.root()
			if len(args) == 1 {
				n, err := a.find(ctx, args[0])
				if err != nil {
					return err
				}
				f, ok := n.(*tree.Folder)
				if !ok {
					return fmt.Errorf("%s is a file", args[0])
				}
				folder = f
			}
			if err := loadItems(ctx, folder); err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), folder.Items())
		},
	}
}

func printItems(out io.Writer, items []tree.Node) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSSID\tSIZE\tNAME")
	for _, n := range items {
		size := "-"
		if f, ok := n.(*tree.File); ok {
			size = fmt.Sprint(f.FileSize())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", typeLabel(n.Type()), n.SSID(), size, n.Name())
	}
	return w.Flush()
}

func typeLabel(t models.ItemType) string {
	switch t {
	case models.ItemProject:
		return "project"
	case models.ItemFolder:
		return "folder"
	default:
		return "file"
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file-ssid>",
		Short: "Print a file and add it to the recent files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLinked(); err != nil {
				return err
			}
			ctx := cmd.Context()
			f, err := a.openFile(ctx, args[0])
			if err != nil {
				return err
			}
			w := newFileWaiter(f)
			f.LoadContent()
			if err := await(ctx, w.loaded); err != nil {
				return fmt.Errorf("load %s: %w", f.Name(), err)
			}
			_, err = cmd.OutOrStdout().Write(f.Content())
			return err
		},
	}
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file-ssid> [path|-]",
		Short: "Replace a file's content with a local file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLinked(); err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			f, err := a.openFile(ctx, args[0])
			if err != nil {
				return err
			}
			w := newFileWaiter(f)
			f.SaveContent(string(data))
			if err := await(ctx, w.saved); err != nil {
				return fmt.Errorf("save %s: %w", f.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", f.Name(), len(data))
			return nil
		},
	}
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
