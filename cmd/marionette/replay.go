package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/marionette/pkg/store"
	"github.com/go-go-golems/marionette/pkg/stream"
	chatsync "github.com/go-go-golems/marionette/pkg/sync"
)

// newReplayCommand decodes a recorded chunk fixture (one JSON event per
// line) into the assistant message it would have produced. With --chat-id
// the message is appended to that chat on the configured store instead of
// being printed.
func newReplayCommand() *cobra.Command {
	var messageID string
	var turnUserMessageID string
	var chatID string

	cmd := &cobra.Command{
		Use:   "replay <fixture.jsonl>",
		Short: "Fold a recorded chunk stream into an assistant message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "could not open fixture %s", args[0])
			}
			defer func() {
				_ = f.Close()
			}()

			src, err := stream.NewSliceSourceFromJSONL(f)
			if err != nil {
				return errors.Wrap(err, "could not parse fixture")
			}

			var options []stream.DecoderOption
			if messageID != "" {
				options = append(options, stream.WithMessageID(messageID))
			}
			if turnUserMessageID != "" {
				options = append(options, stream.WithTurnUserMessageID(turnUserMessageID))
			}
			dec := stream.NewDecoder(options...)

			if err := stream.Drain(ctx, src, dec); err != nil {
				return err
			}
			msg := dec.Finish()

			log.Debug().
				Str("message_id", msg.ID).
				Int("parts", len(msg.Parts)).
				Msg("replayed fixture")

			if chatID != "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				if cfg.StoreURL == "" {
					return errors.New("--chat-id requires storeUrl in the config")
				}
				eng := chatsync.NewEngine(store.NewHTTPStore(cfg.StoreURL), cfg.ProfileID)
				cs, err := eng.Load(ctx, chatID)
				if err != nil {
					return errors.Wrapf(err, "could not load chat %s", chatID)
				}
				cs.Append(msg)
				if err := eng.Flush(ctx, cs); err != nil {
					return err
				}
				log.Info().
					Str("chat_id", chatID).
					Str("message_id", msg.ID).
					Msg("appended replayed message")
				return nil
			}

			out, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&messageID, "message-id", "", "Id to assign to the decoded message")
	cmd.Flags().StringVar(&turnUserMessageID, "turn-user-message-id", "", "User message id anchoring the decoded turn")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Append the decoded message to this chat on the configured store")

	return cmd
}
