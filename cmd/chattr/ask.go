package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/transcript"
)

type askResult struct {
	*chat.TurnResult
	Error string `json:"error,omitempty"`
}

func newAskCmd(opts *options) *cobra.Command {
	var threadID, userID string

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one turn and print the transcript",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.newLogger(cfg)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st := defaultStyles()
			var onRecord func(transcript.Record)
			if !opts.jsonOutput() {
				onRecord = func(rec transcript.Record) {
					st.renderRecord(opts.stdout, cfg.Character.Name, rec)
				}
			}

			res, turnErr := a.chat.Turn(cmd.Context(), chat.TurnRequest{
				ThreadID: threadID,
				UserID:   userID,
				Message:  strings.Join(args, " "),
			}, onRecord)
			if res == nil {
				return fmt.Errorf("ask: %w", turnErr)
			}

			if opts.jsonOutput() {
				out := askResult{TurnResult: res}
				if turnErr != nil {
					out.Error = turnErr.Error()
				}
				enc := json.NewEncoder(opts.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(opts.stdout, st.dim.Render(fmt.Sprintf("thread %s  state %s  hops %d  tools %d",
					res.ThreadID, res.State, res.Hops, res.ToolCalls)))
			}

			if turnErr != nil {
				return fmt.Errorf("ask: %w", turnErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "continue an existing thread")
	cmd.Flags().StringVar(&userID, "user", "", "user id for memory (default: thread owner)")
	return cmd
}
