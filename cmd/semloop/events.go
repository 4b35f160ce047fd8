package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semloop/events"
)

// eventsCmd tails the iteration events published by run.
func eventsCmd(flags *globalFlags) *cobra.Command {
	var natsURL string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print iteration events from NATS as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				return a.tailEvents(ctx, natsURL)
			})
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server (default: events.nats_url)")
	return cmd
}

func (a *App) tailEvents(ctx context.Context, url string) error {
	if url == "" {
		url = a.cfg.Events.NATSURL
	}
	if url == "" {
		return errors.New("no NATS server configured (set events.nats_url or --nats-url)")
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := events.DialNATS(url, a.cfg.Events.Subject, a.logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	a.logger.Info("Tailing iteration events", "url", url, "subject", pub.Subject())
	return pub.Subscribe(ctx, a.printEvent)
}

func (a *App) printEvent(e events.Event) {
	if a.flags.jsonOutput {
		_ = a.printJSON(e)
		return
	}
	switch e.Type {
	case events.TypeCompleted:
		a.printf("%s %s #%d completed: %s\n", e.Time.Local().Format(time.TimeOnly), e.TaskID, e.Iteration, e.To)
	default:
		a.printf("%s %s #%d %s -> %s\n", e.Time.Local().Format(time.TimeOnly), e.TaskID, e.Iteration, e.From, e.To)
	}
}
