package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [conversation-id]",
		Short: "Clear the local cache",
		Long: `Remove cached data. With a conversation id only that conversation's
messages are removed; without one, all messages and summaries are.

The server is not contacted. The next load refetches what was removed.

Example:
  hirechat clear
  hirechat clear 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearCache(rootOpts, args, cmd)
		},
	}
}

func clearCache(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	var conversationID int64
	if len(args) == 1 {
		id, err := parseConversationID(args[0])
		if err != nil {
			return err
		}
		conversationID = id
	}

	st, err := opts.openCache()
	if err != nil {
		return err
	}
	defer st.Close()

	if conversationID != 0 {
		if err := st.ClearConversation(ctx, conversationID); err != nil {
			return WrapExitError(ExitCommandError, "failed to clear conversation", err)
		}
		return out.Success(fmt.Sprintf("Cleared conversation %d.", conversationID))
	}

	if err := st.ClearAll(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to clear cache", err)
	}
	return out.Success("Cleared cache.")
}

func parseConversationID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid conversation id %q", s))
	}
	return id, nil
}
