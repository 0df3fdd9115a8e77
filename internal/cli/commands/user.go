package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewUserCommand creates the user command with subcommands.
func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage gateway user accounts",
		Long: `Manage the accounts allowed to request access tokens.

Accounts live in a local SQLite database. The gateway reads it on every
login, so changes take effect without a restart.`,
	}

	// Add subcommands
	cmd.AddCommand(newUserAddCommand())
	cmd.AddCommand(newUserListCommand())
	cmd.AddCommand(newUserPasswdCommand())
	cmd.AddCommand(newUserDeactivateCommand())

	return cmd
}

func newUserAddCommand() *cobra.Command {
	var email string
	var firstName string
	var lastName string
	var password string

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user account",
		Long:  `Create an account in the user database.`,
		Example: `  # Prompt for the password
  fluxgate user add ada --email ada@example.com --first-name Ada

  # Non-interactive (the password ends up in shell history)
  fluxgate user add ci-bot --email ci@example.com --password "$CI_BOT_PASSWORD"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(cmd, args[0], email, firstName, lastName, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted for when omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUserListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		Long:  `List every account in the user database, active and inactive.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserList(cmd)
		},
	}

	return cmd
}

func newUserPasswdCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change an account password",
		Example: `  # Prompt for the new password
  fluxgate user passwd ada`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserPasswd(cmd, args[0], password)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (prompted for when omitted)")

	return cmd
}

func newUserDeactivateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Deactivate a user account",
		Long: `Deactivate an account so it can no longer log in.

The row is kept, so the username stays reserved and can not be claimed
by someone else.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDeactivate(cmd, args[0])
		},
	}

	return cmd
}

func runUserAdd(cmd *cobra.Command, username, email, firstName, lastName, password string) error {
	if password == "" {
		var err error
		password, err = promptPassword(cmd, true)
		if err != nil {
			return err
		}
	}

	st, err := openUserStore(getConfig(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	user, err := st.Add(cmd.Context(), email, firstName, lastName, username, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User %s created (id %s)\n", user.Username, user.ID)
	return nil
}

func runUserList(cmd *cobra.Command) error {
	st, err := openUserStore(getConfig(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	users, err := st.List(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(users) == 0 {
		_, _ = fmt.Fprintln(w, "(0 users)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Username", "Email", "Name", "Status", "Created"})

	for _, u := range users {
		name := strings.TrimSpace(u.FirstName + " " + u.LastName)
		t.AppendRow(table.Row{u.Username, u.Email, name, u.Status, u.CreatedAt.Format("2006-01-02 15:04")})
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d users)\n", len(users))
	return nil
}

func runUserPasswd(cmd *cobra.Command, username, password string) error {
	if password == "" {
		var err error
		password, err = promptPassword(cmd, true)
		if err != nil {
			return err
		}
	}

	st, err := openUserStore(getConfig(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.ChangePassword(cmd.Context(), username, password); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", username)
	return nil
}

func runUserDeactivate(cmd *cobra.Command, username string) error {
	st, err := openUserStore(getConfig(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.Deactivate(cmd.Context(), username); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User %s deactivated\n", username)
	return nil
}

// promptPassword reads a password without echo when stdin is a
// terminal, asking twice when confirm is set. Otherwise it reads one
// line from the command's input stream so passwords can be piped in.
func promptPassword(cmd *cobra.Command, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	readOne := func(prompt string) (string, error) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}

	password, err := readOne("Password: ")
	if err != nil {
		return "", err
	}

	if confirm {
		again, err := readOne("Retype password: ")
		if err != nil {
			return "", err
		}
		if password != again {
			return "", fmt.Errorf("passwords do not match")
		}
	}

	return password, nil
}
