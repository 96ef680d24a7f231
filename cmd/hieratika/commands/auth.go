package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Log in and save the session",
	Long: `Log in to the configured server. The session token is saved so that
later commands run as this user until logout.

The password is taken from --password, then from the HIERATIKA_PASSWORD
environment variable, then read as one line from standard input.

Examples:
  hieratika login operator --password secret
  echo secret | hieratika login operator`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on the server and forget it locally",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user as the server knows it",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prefer HIERATIKA_PASSWORD or stdin)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func readPassword(cmd *cobra.Command) (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if env := os.Getenv("HIERATIKA_PASSWORD"); env != "" {
		return env, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no password given")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	username := args[0]

	password, err := readPassword(cmd)
	if err != nil {
		return printer.Error("no password", "A password is required to log in.",
			[]string{"Pass --password, set HIERATIKA_PASSWORD or pipe it on stdin"})
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.client.Login(ctx, username, password)
	if err != nil {
		return printer.ServerError("log in", "User "+username, err)
	}
	if err := s.store.Save(s.cfg.Server.URL, user); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	printer.Success("Logged in to %s as %s\n", s.cfg.Server.URL, user.Username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	username := s.username()
	logoutErr := s.client.Logout(context.Background())
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if logoutErr != nil {
		printer.Warning("Session forgotten locally, but the server did not confirm: %s\n",
			hieratika.UserMessage("", logoutErr))
		return nil
	}
	printer.Success("Logged out %s\n", username)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	username := s.username()
	user, err := s.client.GetUser(context.Background(), username)
	if errors.Is(err, hieratika.ErrNotFound) {
		return printer.Error("unknown user", fmt.Sprintf("The server no longer knows %s.", username),
			[]string{"Log in again: hieratika login <username>"})
	}
	if err != nil {
		return printer.ServerError("get user", "User "+username, err)
	}

	printer.Printf("Username: %s\n", user.Username)
	if user.Name != "" {
		printer.Printf("Name:     %s\n", user.Name)
	}
	printer.Printf("Groups:   %s\n", strings.Join(user.Groups, ", "))
	printer.Printf("Server:   %s\n", s.cfg.Server.URL)
	return nil
}
