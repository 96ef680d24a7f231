package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/dispatch"
	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/internal/registry"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var (
	transformWait    bool
	transformTimeout time.Duration
	transformPage    string
)

var transformationsCmd = &cobra.Command{
	Use:   "transformations",
	Short: "List the transformation functions of a page",
	Args:  cobra.NoArgs,
	RunE:  runTransformations,
}

var transformCmd = &cobra.Command{
	Use:   "transform FUN NAME=VALUE...",
	Short: "Run a transformation function on the server",
	Long: `Start a transformation with the given inputs. Values are JSON literals;
anything that is not valid JSON is sent as a string.

With --wait the command follows the push stream until the transformation
completes or fails and prints its outputs.`,
	Example: `  hieratika transform computeGains TARGET=0.5 --wait`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runTransform,
}

func init() {
	transformationsCmd.Flags().StringVar(&transformPage, "page", "", "Page name (required)")
	_ = transformationsCmd.MarkFlagRequired("page")

	transformCmd.Flags().BoolVarP(&transformWait, "wait", "w", false, "Wait for the outputs")
	transformCmd.Flags().DurationVar(&transformTimeout, "timeout", 5*time.Minute, "How long --wait waits")
	rootCmd.AddCommand(transformationsCmd, transformCmd)
}

func runTransformations(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.client.GetTransformationsInfo(context.Background(), transformPage)
	if err != nil {
		return printer.ServerError("list transformations", "Page "+transformPage, err)
	}
	if len(infos) == 0 {
		printer.Info("No transformations for page '%s'\n", transformPage)
		return nil
	}
	rows := make([][]string, len(infos))
	for i, info := range infos {
		rows[i] = []string{info.Fun, fmt.Sprint(info.Inputs), fmt.Sprint(info.Outputs), dash(info.Description)}
	}
	printer.Table([]string{"FUN", "INPUTS", "OUTPUTS", "DESCRIPTION"}, rows)
	return nil
}

func runTransform(cmd *cobra.Command, args []string) error {
	fun := args[0]
	text, _, err := parseAssignments(args[1:])
	if err != nil {
		return printer.Error("invalid arguments", err.Error(), []string{"Use NAME=VALUE, e.g. TARGET=0.5"})
	}

	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if !transformWait {
		uid, err := s.client.Transform(context.Background(), fun, jsonValues(text))
		if err != nil {
			return printer.ServerError("start transformation", "Transformation "+fun, err)
		}
		printer.Success("Started transformation %s\n", uid)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), transformTimeout)
	defer cancel()

	// Subscribe first so that no progress message is missed.
	sub, err := hieratika.NewStream(s.client).Subscribe(ctx)
	if err != nil {
		return printer.ServerError("open the push stream", "", err)
	}
	defer sub.Close()

	uid, err := s.client.Transform(ctx, fun, jsonValues(text))
	if err != nil {
		return printer.ServerError("start transformation", "Transformation "+fun, err)
	}
	printer.Step("Started transformation %s\n", uid)

	var final *hieratika.Message
	d := dispatch.New(registry.New(), logger)
	d.OnTid(s.client.SetTid)
	d.OnTransformation(func(msg *hieratika.Message) {
		if msg.TransformationUID == nil || *msg.TransformationUID != uid {
			return
		}
		if msg.State != nil && *msg.State != hieratika.TransformationRunning {
			final = msg
			return
		}
		printer.Step("%.0f%%\n", msg.Progress*100)
	})

	for final == nil {
		select {
		case <-ctx.Done():
			return printer.Error("transformation timed out",
				fmt.Sprintf("No result for %s after %s.", uid, transformTimeout),
				[]string{"Raise --timeout, or follow it with: hieratika watch --kind transformation"})
		case msg, ok := <-sub.Events():
			if !ok {
				return printer.Error("push stream closed", "The server ended the stream before the transformation finished.", nil)
			}
			d.Dispatch(msg, "")
		}
	}

	if *final.State == hieratika.TransformationError {
		return printer.Error("transformation failed", fmt.Sprintf("The server reported an error for %s.", uid), nil)
	}
	printer.Success("Transformation %s completed\n", uid)
	printer.Values(final.Outputs)
	return nil
}
