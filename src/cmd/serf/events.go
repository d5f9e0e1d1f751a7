package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"serf-ci/src/broker"
	"serf-ci/src/contracts"
)

func newEventsCmd(a *app) *cobra.Command {
	var (
		topics []string
		group  string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail dispatch outcomes and build events",
		Long: `Prints one line per event published by serf watch (serf.dispatch.outcomes)
and serf build (serf.builds) until interrupted. Needs REDPANDA_BROKERS; with
the in-process broker only events of this process would be seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.RedpandaBrokers) == 0 {
				return usageError(cmd, "REDPANDA_BROKERS is not set", "Point it at the brokers serf watch and serf build publish to")
			}

			msgBroker, err := newBroker(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer msgBroker.Close()

			return tailEvents(cmd.Context(), msgBroker, topics, group, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", []string{contracts.TopicDispatchOutcomes, contracts.TopicBuilds}, "Topics to tail")
	cmd.Flags().StringVar(&group, "group", "serf-events", "Consumer group")
	return cmd
}

// tailEvents subscribes to topics and writes a line per message to out until
// ctx ends or every subscription closes.
func tailEvents(ctx context.Context, b broker.Broker, topics []string, group string, out io.Writer) error {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, topic := range topics {
		msgs, err := b.Subscribe(ctx, topic, group)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				line := formatEvent(msg)
				mu.Lock()
				fmt.Fprintln(out, line)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return nil
}

func formatEvent(msg broker.Message) string {
	switch msg.Topic {
	case contracts.TopicDispatchOutcomes:
		var ev contracts.DispatchOutcome
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			break
		}
		result := "ok"
		if !ev.Succeeded {
			result = "failed: " + ev.Error
		}
		return fmt.Sprintf("%s dispatch %s %s@%s %s", ev.Timestamp, ev.Repository, ev.RefName, ev.SHA, result)
	case contracts.TopicBuilds:
		var ev contracts.BuildEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			break
		}
		line := fmt.Sprintf("%s build %s@%s [%s] %s", ev.Timestamp, ev.Repository, ev.SHA, ev.Name, ev.State)
		if ev.TargetURL != "" {
			line += " " + ev.TargetURL
		}
		return line
	}
	return fmt.Sprintf("%s %s", msg.Topic, msg.Value)
}
