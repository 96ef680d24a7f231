package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var plantPage string

var plantCmd = &cobra.Command{
	Use:   "plant",
	Short: "Read and change the values destined for the plant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var plantShowCmd = &cobra.Command{
	Use:     "show NAME...",
	Short:   "Show the plant values of variables of a page",
	Example: `  hieratika plant show --page demo GAIN OFFSET`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runPlantShow,
}

var plantApplyCmd = &cobra.Command{
	Use:   "apply SCHEDULE_UID",
	Short: "Copy every value of a schedule into the plant",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlantApply,
}

var plantLoadCmd = &cobra.Command{
	Use:   "load PAGE...",
	Short: "Ask the server to load the configuration of pages into the plant",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlantLoad,
}

func init() {
	plantShowCmd.Flags().StringVar(&plantPage, "page", "", "Page name (required)")
	_ = plantShowCmd.MarkFlagRequired("page")

	plantCmd.AddCommand(plantShowCmd, plantApplyCmd, plantLoadCmd)
	rootCmd.AddCommand(plantCmd)
}

func runPlantShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.client.GetVariablesInfo(context.Background(), plantPage, args)
	if err != nil {
		return printer.ServerError("get variables", "Page "+plantPage, err)
	}
	values := hieratika.Values{}
	for _, info := range infos {
		values[info.Name] = info.Value
	}
	printer.Values(values)
	for _, name := range args {
		if _, ok := values[name]; !ok {
			printer.Warning("%s is not a variable of page %s\n", name, plantPage)
		}
	}
	return nil
}

func runPlantApply(cmd *cobra.Command, args []string) error {
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
	if err := s.client.UpdatePlantFromSchedule(ctx, sched.PageName, uid); err != nil {
		return printer.ServerError("update plant", "Schedule "+uid, err)
	}
	printer.Success("Plant of %s updated from %s (%s)\n", sched.PageName, sched.Name, uid)
	return nil
}

func runPlantLoad(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.LoadIntoPlant(context.Background(), args...); err != nil {
		return printer.ServerError("load into plant", "Pages "+strings.Join(args, ", "), err)
	}
	printer.Success("Loaded %s into the plant\n", strings.Join(args, ", "))
	return nil
}
