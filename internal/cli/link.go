package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

func newLinkCmd(a *app) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "link <address>",
		Short: "Link this device to a dashboard with a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				var err error
				code, err = promptCode(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			if err := linkDevice(cmd.Context(), a.conn, args[0], code); err != nil {
				return fmt.Errorf("link failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked to %s as %s\n", a.conn.Address(), a.conn.DeviceName())
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "link code shown by the dashboard (prompted when empty)")
	return cmd
}

// promptCode reads a link code, without echo when stdin is a terminal.
func promptCode(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Link code: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read link code: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read link code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// linkDevice runs LinkDeviceWithAddress and waits for the delegate.
func linkDevice(ctx context.Context, conn *client.Connection, address, code string) error {
	done := make(chan error, 1)
	conn.SetDelegate(client.DelegateFuncs{
		OnLinked:     func(*client.Connection) { done <- nil },
		OnLinkFailed: func(_ *client.Connection, err error) { done <- err },
	})
	defer conn.SetDelegate(nil)

	conn.LinkDeviceWithAddress(address, code)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newUnlinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.conn.IsLinked() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not linked")
				return nil
			}
			address := a.conn.Address()
			if err := a.conn.Unlink(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlinked from %s\n", address)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the stored credentials against the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !a.conn.IsLinked() {
				fmt.Fprintln(out, "Not linked")
				return nil
			}
			creds := a.conn.Credentials()
			fmt.Fprintf(out, "Address: %s\nIdent:   %s\n", creds.Address, creds.IdentCode)
			if !creds.LinkedAt.IsZero() {
				fmt.Fprintf(out, "Linked:  %s\n", creds.LinkedAt.Local().Format("2006-01-02 15:04"))
			}
			if _, err := a.conn.Fetch(cmd.Context(), protocol.MethodPing); err != nil {
				if client.IsAuth(err) {
					return fmt.Errorf("credentials rejected, run 'sparkle link' again: %w", err)
				}
				return fmt.Errorf("dashboard unreachable: %w", err)
			}
			fmt.Fprintln(out, "Status:  connected")
			return nil
		},
	}
}
