package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hirechat/internal/history"
	"github.com/roach88/hirechat/internal/restapi"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Pages   int
	Offline bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show the messages of a conversation",
		Long: `Show the messages of a conversation, oldest first.

A cold cache is filled with the newest page from the server. --pages loads
that many pages in total, walking back through older history. With --offline
only cached messages are shown.

Example:
  hirechat history 42
  hirechat history 42 --pages 3 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "number of pages to load")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "read the local cache only")

	return cmd
}

func showHistory(opts *HistoryOptions, arg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	conversationID, err := parseConversationID(arg)
	if err != nil {
		return err
	}
	if opts.Pages < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--pages must be at least 1, got %d", opts.Pages))
	}

	st, err := opts.openCache()
	if err != nil {
		return err
	}
	defer st.Close()

	if !opts.Offline {
		cfg := opts.Config
		api, err := restapi.New(cfg.APIURL, cfg.Token)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		pager := history.NewPager(api, st, history.WithPageSize(cfg.PageSize))

		if _, err := pager.LoadInitial(ctx, conversationID); err != nil {
			return WrapExitError(ExitFailure, "failed to load history", err)
		}
		for page := 1; page < opts.Pages && pager.State().HasMore; page++ {
			if _, err := pager.LoadOlder(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to load older history", err)
			}
		}
		state := pager.State()
		out.VerboseLog("loaded %d page(s), more available: %t", state.CurrentPage, state.HasMore)
	}

	msgs, err := st.MessagesByConversation(ctx, conversationID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read cache", err)
	}
	return out.Success(messageList(msgs))
}
