package commands

import (
	"context"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var relayMetricsAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Fan the server push stream out through Redis",
	Long: `Hold one event stream connection to the server and publish every
message to the Redis channel hieratika:{instance}:stream, where any number of
consumers ("hieratika watch --relay", or other processes) can subscribe.

Runs until interrupted or until the server ends the stream.`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics and /healthz on this address")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	relay, err := connectRelay(ctx, s)
	if err != nil {
		return err
	}
	defer relay.Close()

	upstream, err := hieratika.NewStream(s.client).Subscribe(ctx)
	if err != nil {
		return printer.ServerError("open the push stream", "", err)
	}
	defer upstream.Close()

	printer.Step("Relaying %s to %s\n", s.cfg.Server.URL, relay.Channel())

	var connected atomic.Bool
	connected.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	var forwarded int
	g.Go(func() error {
		defer cancel()
		defer connected.Store(false)
		n, err := relay.Forward(gctx, upstream)
		forwarded = n
		return err
	})
	if relayMetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, relayMetricsAddr, connected.Load) })
	}

	err = g.Wait()
	logger.Info("relay stopped", zap.Int("forwarded", forwarded))
	if err != nil {
		return printer.Error("relay failed", err.Error(), nil)
	}
	printer.Success("Relay stopped after %s\n", plural(forwarded, "message"))
	return nil
}
