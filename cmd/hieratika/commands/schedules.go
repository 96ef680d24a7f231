package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/editor"
	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/internal/widget"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var (
	schedulesPage   string
	schedulesUser   string
	schedulesFolder string

	scheduleCreatePage    string
	scheduleCreateDesc    string
	scheduleCreateFrom    string
	scheduleCreateInherit bool
	scheduleCreateFolder  string
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List the folders and schedules of a page",
	Long: `List the schedule folders and schedules stored in one folder of a page.

Examples:
  # Schedules of the logged-in user at the root of page "demo"
  hieratika schedules --page demo

  # Another user's schedules inside folder tests/nightly
  hieratika schedules --page demo --user admin --folder tests/nightly`,
	Args: cobra.NoArgs,
	RunE: runSchedules,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and change a single schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show SCHEDULE_UID",
	Short: "Show a schedule and its values",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a schedule from the plant or from another schedule",
	Example: `  hieratika schedule create nightly --page demo
  hieratika schedule create tuned --page demo --from 42 --inherit`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleCreate,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete SCHEDULE_UID...",
	Short: "Delete schedules, stopping at the first failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScheduleBatch("delete", "Deleted", args, func(ctx context.Context, c *hieratika.Client) error {
			return c.DeleteSchedules(ctx, args...)
		})
	},
}

var scheduleObsoleteCmd = &cobra.Command{
	Use:   "obsolete SCHEDULE_UID...",
	Short: "Mark schedules obsolete, stopping at the first failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScheduleBatch("obsolete", "Marked obsolete", args, func(ctx context.Context, c *hieratika.Client) error {
			return c.ObsoleteSchedules(ctx, args...)
		})
	},
}

var scheduleCommitCmd = &cobra.Command{
	Use:   "commit SCHEDULE_UID NAME=VALUE...",
	Short: "Change variables of a schedule and store them",
	Long: `Open a schedule, apply NAME=VALUE edits and commit them.

Each value is converted to the variable's type and checked against the
validations the server declares for it; nothing is sent if any check fails.
Arrays are given as JSON, e.g. COEFFS=[1,2,3].

Examples:
  hieratika schedule commit 42 GAIN=2.5 OFFSET=-1`,
	Args: cobra.MinimumNArgs(2),
	RunE: runScheduleCommit,
}

func init() {
	schedulesCmd.Flags().StringVar(&schedulesPage, "page", "", "Page name (required)")
	schedulesCmd.Flags().StringVar(&schedulesUser, "user", "", "Owner (defaults to the logged-in user)")
	schedulesCmd.Flags().StringVar(&schedulesFolder, "folder", "", "Folder path, parents separated by /")
	_ = schedulesCmd.MarkFlagRequired("page")

	scheduleCreateCmd.Flags().StringVar(&scheduleCreatePage, "page", "", "Page name (required)")
	scheduleCreateCmd.Flags().StringVar(&scheduleCreateDesc, "description", "", "Schedule description")
	scheduleCreateCmd.Flags().StringVar(&scheduleCreateFrom, "from", "", "Copy values from this schedule instead of the plant")
	scheduleCreateCmd.Flags().BoolVar(&scheduleCreateInherit, "inherit", false, "Link to the --from schedule, which then cannot change")
	scheduleCreateCmd.Flags().StringVar(&scheduleCreateFolder, "folder", "", "Folder path, parents separated by /")
	_ = scheduleCreateCmd.MarkFlagRequired("page")

	scheduleCmd.AddCommand(scheduleShowCmd, scheduleCreateCmd, scheduleDeleteCmd, scheduleObsoleteCmd, scheduleCommitCmd)
	rootCmd.AddCommand(schedulesCmd, scheduleCmd)
}

func folderPath(page, user, folder string) hieratika.FolderPath {
	var parents []string
	for _, p := range strings.Split(folder, "/") {
		if p != "" {
			parents = append(parents, p)
		}
	}
	return hieratika.FolderPath{PageName: page, Username: user, ParentFolders: parents}
}

func runSchedules(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	user := schedulesUser
	if user == "" {
		user = s.username()
	}
	path := folderPath(schedulesPage, user, schedulesFolder)

	folders, err := s.client.GetScheduleFolders(ctx, path)
	if err != nil {
		return printer.ServerError("list schedule folders", "Page "+schedulesPage, err)
	}
	schedules, err := s.client.GetSchedules(ctx, path)
	if err != nil {
		return printer.ServerError("list schedules", "Page "+schedulesPage, err)
	}

	if len(folders) == 0 && len(schedules) == 0 {
		printer.Info("No schedules found for page '%s'\n", schedulesPage)
		return nil
	}
	rows := make([][]string, 0, len(folders)+len(schedules))
	for _, f := range folders {
		rows = append(rows, []string{"-", f.Name + "/", "folder", flags(f.Obsolete, false)})
	}
	for _, sched := range schedules {
		rows = append(rows, []string{sched.UID, sched.Name, sched.Owner, flags(sched.Obsolete, sched.Inheritable)})
	}
	printer.Table([]string{"UID", "NAME", "OWNER", "FLAGS"}, rows)
	printer.Info("\n%s, %s\n", plural(len(folders), "folder"), plural(len(schedules), "schedule"))
	return nil
}

func flags(obsolete, inheritable bool) string {
	var out []string
	if obsolete {
		out = append(out, "obsolete")
	}
	if inheritable {
		out = append(out, "inheritable")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	uid := args[0]
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	sched, err := s.client.GetSchedule(ctx, uid)
	if err != nil {
		return printer.ServerError("get schedule", "Schedule "+uid, err)
	}
	values, err := s.client.GetScheduleVariablesValues(ctx, uid)
	if err != nil {
		return printer.ServerError("get schedule values", "Schedule "+uid, err)
	}

	printer.Printf("Schedule:    %s (%s)\n", sched.Name, sched.UID)
	printer.Printf("Page:        %s\n", sched.PageName)
	printer.Printf("Owner:       %s\n", sched.Owner)
	printer.Printf("Description: %s\n", dash(sched.Description))
	printer.Printf("Flags:       %s\n\n", flags(sched.Obsolete, sched.Inheritable))
	printer.Values(values)
	return nil
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	if scheduleCreateInherit && scheduleCreateFrom == "" {
		return printer.Error("--inherit needs --from", "Only a schedule created from another one can inherit from it.", nil)
	}
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	uid, err := s.client.CreateSchedule(context.Background(), hieratika.CreateScheduleRequest{
		Name:                args[0],
		Description:         scheduleCreateDesc,
		Folder:              folderPath(scheduleCreatePage, s.username(), scheduleCreateFolder),
		SourceScheduleUID:   scheduleCreateFrom,
		InheritFromSchedule: scheduleCreateInherit,
	})
	if err != nil {
		subject := "Schedule " + args[0]
		if scheduleCreateFrom != "" {
			subject = "Schedule " + scheduleCreateFrom
		}
		return printer.ServerError("create schedule", subject, err)
	}
	printer.Success("Created schedule %s (%s)\n", args[0], uid)
	return nil
}

func runScheduleBatch(action, done string, uids []string, op func(context.Context, *hieratika.Client) error) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := op(context.Background(), s.client); err != nil {
		return printer.ServerError(action+" schedules", "", err)
	}
	printer.Success("%s: %s\n", done, strings.Join(uids, ", "))
	return nil
}

func runScheduleCommit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	uid := args[0]
	edits, order, err := parseAssignments(args[1:])
	if err != nil {
		return printer.Error("invalid arguments", err.Error(), []string{"Use NAME=VALUE, e.g. GAIN=2.5"})
	}

	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	sched, err := s.client.GetSchedule(ctx, uid)
	if err != nil {
		return printer.ServerError("get schedule", "Schedule "+uid, err)
	}

	ed := editor.New(s.client, sched.PageName, &editor.Options{SyncInterval: s.cfg.Sync.Interval, Logger: logger})
	widgets := make(map[string]*widget.Widget, len(order))
	for _, name := range order {
		widgets[name] = widget.New(name, widget.KindInput)
		ed.Bind(widgets[name])
	}
	if err := ed.LoadVariablesInfo(ctx); err != nil {
		return printer.ServerError("load variables", "Page "+sched.PageName, err)
	}
	if _, err := ed.OpenSchedule(ctx, uid); err != nil {
		return printer.ServerError("open schedule", "Schedule "+uid, err)
	}

	failed := map[string]string{}
	for _, name := range order {
		w := widgets[name]
		if w.TypeName() == "" {
			failed[name] = "unknown variable"
			continue
		}
		if !w.CanWrite() {
			failed[name] = "not writable by " + s.username()
			continue
		}
		setText(w, edits[name])
		if d := w.Display(); d.Error {
			failed[name] = d.Title
		}
	}
	if len(failed) > 0 {
		return printer.ErrorWithContext(
			"edits rejected",
			fmt.Sprintf("%s failed; nothing was committed.", plural(len(failed), "variable")),
			failed,
			nil,
		)
	}

	if err := ed.Commit(ctx); err != nil {
		return printer.ServerError("commit schedule", "Schedule "+uid, err)
	}
	printer.Success("Committed %s to %s (%s)\n", plural(len(order), "variable"), sched.Name, uid)
	return nil
}

// setText applies a user edit. JSON arrays fill the elements one by one so
// each is converted to the variable type.
func setText(w *widget.Widget, text string) {
	var elems []any
	if strings.HasPrefix(strings.TrimSpace(text), "[") {
		if v, ok := jsonValues(map[string]string{"v": text})["v"].([]any); ok {
			elems = v
		}
	}
	if elems == nil {
		w.SetText(text)
		return
	}
	w.SetValue([]any{}, false)
	for i, e := range elems {
		_ = w.SetElementText(i, fmt.Sprint(e))
	}
}
