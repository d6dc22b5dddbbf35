package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/engine"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Resend string
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <message...>",
		Short: "Send a message",
		Long: `Send a message to a conversation.

The message is cached as pending before it is sent. If the server does not
acknowledge it, it stays pending and the command exits with status 1;
retry it later with --resend and the printed local key.

Example:
  hirechat send 42 "Thanks, see you on Monday"
  hirechat send --resend 01926f3c-7b1e-7c4a-9e55-3f0d1c2b4a61`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Resend != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendMessage(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Resend, "resend", "", "local key of a pending message to send again")

	return cmd
}

func sendMessage(opts *SendOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	var conversationID int64
	if opts.Resend == "" {
		id, err := parseConversationID(args[0])
		if err != nil {
			return err
		}
		conversationID = id
	}

	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.LoadSummaries(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read cache", err)
	}
	if err := s.connect(ctx); err != nil {
		out.VerboseLog("%v", err)
	}

	var msg chat.ChatMessage
	if opts.Resend != "" {
		msg, err = s.engine.Resend(ctx, opts.Resend)
	} else {
		msg, err = s.engine.Send(ctx, conversationID, strings.Join(args[1:], " "))
	}
	if n, derr := s.engine.Drain(ctx); derr != nil {
		out.VerboseLog("applying %d hub events: %v", n, derr)
	}

	switch {
	case err == nil:
		return out.Success(sentMessage{msg})
	case errors.Is(err, engine.ErrEmptyContent):
		return WrapExitError(ExitCommandError, "nothing to send", err)
	case errors.Is(err, engine.ErrUnknownMessage):
		return WrapExitError(ExitCommandError, "no pending message with that key", err)
	case engine.IsReconcileError(err):
		if perr := out.Success(sentMessage{msg}); perr != nil {
			return perr
		}
		return WrapExitError(ExitFailure, "message not delivered", err)
	default:
		return WrapExitError(ExitFailure, "send failed", err)
	}
}
