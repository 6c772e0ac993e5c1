package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"emojivote/internal/bootstrap"
	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/eventbus"
	emojiusecase "emojivote/internal/usecase/emoji"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one event to a running server over NATS",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		url := strings.TrimSpace(app.Config.Events.NATSURL)
		if url == "" {
			return errors.New("events.nats_url is not configured")
		}

		kind, _ := cmd.Flags().GetString("kind")
		id, _ := cmd.Flags().GetString("id")
		thread, _ := cmd.Flags().GetString("thread")
		channel, _ := cmd.Flags().GetString("channel")
		actor, _ := cmd.Flags().GetString("actor")
		payloadJSON, _ := cmd.Flags().GetString("payload")

		ev := emojiusecase.Event{
			ID:      id,
			Kind:    emojiusecase.EventKind(kind),
			Thread:  thread,
			Channel: channel,
			Actor:   actor,
		}
		if strings.TrimSpace(payloadJSON) != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
				return errs.Wrap(err, "decode --payload")
			}
		}

		if err := eventbus.Publish(ctx, url, app.Config.Events.NATSSubject, ev); err != nil {
			logging.Error(ctx, "publish event failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "publish event")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", ev.Kind); err != nil {
			return errs.Wrap(err, "write publish output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().String("kind", "", "Event kind, e.g. vote-reaction-added")
	publishCmd.Flags().String("id", "", "Event id used for de-duplication")
	publishCmd.Flags().String("thread", "", "Proposal thread")
	publishCmd.Flags().String("channel", "", "Channel the event came from")
	publishCmd.Flags().String("actor", "", "Chat user id")
	publishCmd.Flags().String("payload", "", "Payload as a JSON object of strings")
	_ = publishCmd.MarkFlagRequired("kind")
}
