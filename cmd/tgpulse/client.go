package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/danhigham/tgpulse/internal/activity"
	"github.com/danhigham/tgpulse/internal/apiclient"
	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/sessionstore"
)

const maxLoginAttempts = 3

var (
	activityJSON bool
	gatewayURL   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (overrides client.gateway_url)")
	activityCmd.Flags().BoolVar(&activityJSON, "json", false, "print the raw snapshot as JSON")

	rootCmd.AddCommand(loginCmd, activityCmd, statusCmd, logoutCmd, versionCmd)
}

func newClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base := cfg.Client.GatewayURL
	if gatewayURL != "" {
		base = gatewayURL
	}
	return apiclient.New(base, sessionstore.NewFileSlot(cfg.Client.SessionFile),
		apiclient.WithCookieName(cfg.Session.CookieName))
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Telegram through the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		phone, err := prompt(in, out, "Phone number (international format): ")
		if err != nil {
			return err
		}
		hash, err := c.SendCode(ctx, phone)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Code sent.")

		var needPassword bool
		for attempt := 1; ; attempt++ {
			code, err := prompt(in, out, "Code: ")
			if err != nil {
				return err
			}
			needPassword, err = c.VerifyCode(ctx, phone, code, hash)
			if err == nil {
				break
			}
			// A wrong code leaves the login waiting for another attempt.
			if !retryable(err, attempt) {
				return err
			}
			fmt.Fprintf(out, "%s, try again.\n", apperr.Public(err))
		}

		for attempt := 1; needPassword; attempt++ {
			password, err := readPassword(in, out, "Two-factor password: ")
			if err != nil {
				return err
			}
			err = c.SignInPassword(ctx, password)
			if err == nil {
				break
			}
			if !retryable(err, attempt) {
				return err
			}
			fmt.Fprintf(out, "%s, try again.\n", apperr.Public(err))
		}
		fmt.Fprintln(out, "Logged in.")
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent conversations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		snap, err := c.Activity(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if activityJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		doc := activity.Markdown(snap)
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(terminalWidth()))
		if err != nil {
			fmt.Fprint(out, doc)
			return nil
		}
		rendered, err := r.Render(doc)
		if err != nil {
			fmt.Fprint(out, doc)
			return nil
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the stored session is connected",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !c.LoggedIn() {
			fmt.Fprintln(out, "Not logged in.")
			return nil
		}
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case !st.Connected:
			fmt.Fprintln(out, "Session stored, Telegram unreachable.")
		case st.User != nil && st.User.Username != "":
			fmt.Fprintf(out, "Connected as %s (@%s).\n", strings.TrimSpace(st.User.FirstName+" "+st.User.LastName), st.User.Username)
		case st.User != nil:
			fmt.Fprintf(out, "Connected as %s.\n", strings.TrimSpace(st.User.FirstName+" "+st.User.LastName))
		default:
			fmt.Fprintln(out, "Connected.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Logout(cmd.Context()); err != nil {
			// The local session is already gone at this point.
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: gateway logout failed: %v\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tgpulse %s (commit: %s)\n", version, commit)
	},
}

func retryable(err error, attempt int) bool {
	return apperr.KindOf(err) == apperr.KindAuthentication && attempt < maxLoginAttempts
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword disables echo when stdin is a terminal.
func readPassword(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(in, out, label)
	}
	fmt.Fprint(out, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w - 2
	}
	return 80
}
