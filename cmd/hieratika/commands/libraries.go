package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var (
	librariesType string
	librariesUser string

	librarySaveType string
	librarySaveDesc string
)

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List the libraries of a type",
	Example: `  hieratika libraries --type gains
  hieratika libraries --type gains --user admin`,
	Args: cobra.NoArgs,
	RunE: runLibraries,
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect and change a single library",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var libraryShowCmd = &cobra.Command{
	Use:   "show LIBRARY_UID",
	Short: "Show the values stored in a library",
	Args:  cobra.ExactArgs(1),
	RunE:  runLibraryShow,
}

var librarySaveCmd = &cobra.Command{
	Use:   "save NAME NAME=VALUE...",
	Short: "Create or overwrite a library of the logged-in user",
	Long: `Save NAME=VALUE pairs as a library. Values are JSON literals; anything
that is not valid JSON is stored as a string.`,
	Example: `  hieratika library save aggressive --type gains P=1.5 I=0.2 D=0`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runLibrarySave,
}

var libraryDeleteCmd = &cobra.Command{
	Use:   "delete LIBRARY_UID",
	Short: "Delete a library that no schedule uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLibraryOp("delete library", "Deleted", args[0], (*hieratika.Client).DeleteLibrary)
	},
}

var libraryObsoleteCmd = &cobra.Command{
	Use:   "obsolete LIBRARY_UID",
	Short: "Mark a library obsolete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLibraryOp("mark library obsolete", "Marked obsolete", args[0], (*hieratika.Client).ObsoleteLibrary)
	},
}

func init() {
	librariesCmd.Flags().StringVar(&librariesType, "type", "", "Library type (required)")
	librariesCmd.Flags().StringVar(&librariesUser, "user", "", "Owner (defaults to the logged-in user)")
	_ = librariesCmd.MarkFlagRequired("type")

	librarySaveCmd.Flags().StringVar(&librarySaveType, "type", "", "Library type (required)")
	librarySaveCmd.Flags().StringVar(&librarySaveDesc, "description", "", "Library description")
	_ = librarySaveCmd.MarkFlagRequired("type")

	libraryCmd.AddCommand(libraryShowCmd, librarySaveCmd, libraryDeleteCmd, libraryObsoleteCmd)
	rootCmd.AddCommand(librariesCmd, libraryCmd)
}

func runLibraries(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	user := librariesUser
	if user == "" {
		user = s.username()
	}
	libraries, err := s.client.GetLibraries(context.Background(), librariesType, user)
	if err != nil {
		return printer.ServerError("list libraries", "", err)
	}
	if len(libraries) == 0 {
		printer.Info("No %s libraries found for %s\n", librariesType, user)
		return nil
	}
	rows := make([][]string, len(libraries))
	for i, lib := range libraries {
		state := flags(lib.Obsolete, false)
		if lib.Locked {
			state = "locked"
		}
		rows[i] = []string{lib.UID, lib.Name, lib.Owner, dash(lib.Description), state}
	}
	printer.Table([]string{"UID", "NAME", "OWNER", "DESCRIPTION", "FLAGS"}, rows)
	return nil
}

func runLibraryShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := s.client.GetLibraryVariablesValues(context.Background(), args[0])
	if err != nil {
		return printer.ServerError("get library", "Library "+args[0], err)
	}
	printer.Values(values)
	return nil
}

func runLibrarySave(cmd *cobra.Command, args []string) error {
	text, _, err := parseAssignments(args[1:])
	if err != nil {
		return printer.Error("invalid arguments", err.Error(), []string{"Use NAME=VALUE, e.g. P=1.5"})
	}
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	lib, err := s.client.SaveLibrary(context.Background(), hieratika.SaveLibraryRequest{
		Type:        librarySaveType,
		Name:        args[0],
		Description: librarySaveDesc,
		Username:    s.username(),
		Variables:   jsonValues(text),
	})
	if err != nil {
		return printer.ServerError("save library", "Library "+args[0], err)
	}
	printer.Success("Saved library %s (%s)\n", lib.Name, lib.UID)
	return nil
}

func runLibraryOp(action, done, uid string, op func(*hieratika.Client, context.Context, string) error) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := op(s.client, context.Background(), uid); err != nil {
		return printer.ServerError(action, "Library "+uid, err)
	}
	printer.Success("%s: %s\n", done, uid)
	return nil
}
