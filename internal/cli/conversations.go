package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/hirechat/internal/chat"
)

// ConversationsOptions holds flags for the conversations command.
type ConversationsOptions struct {
	*RootOptions
	Offline bool
}

// NewConversationsCommand creates the conversations command.
func NewConversationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConversationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Long: `List the viewer's conversations with their latest message.

The list is refreshed from the server and merged into the local cache. With
--offline only the cache is read. Conversations with unread messages are
marked with an asterisk.

Example:
  hirechat conversations
  hirechat conversations --offline --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listConversations(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "read the local cache only")

	return cmd
}

func listConversations(opts *ConversationsOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	if opts.Offline {
		st, err := opts.openCache()
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.Summaries(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cache", err)
		}
		chat.SortSummaries(list)
		return out.Success(conversationList{viewer: opts.Config.Viewer.Name, items: list})
	}

	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.LoadSummaries(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read cache", err)
	}
	if err := s.engine.SyncConversations(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to refresh conversations", err)
	}
	out.VerboseLog("synced %d conversations", len(s.engine.Summaries()))
	return out.Success(conversationList{viewer: opts.Config.Viewer.Name, items: s.engine.Summaries()})
}
