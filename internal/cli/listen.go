package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/engine"
	"github.com/roach88/hirechat/internal/telemetry"
)

// ListenOptions holds flags for the listen command.
type ListenOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewListenCommand creates the listen command.
func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print conversation activity",
		Long: `Connect to the realtime hub, join every conversation and print
activity as it is reconciled into the local cache: new messages, edits,
deletions, typing and presence.

The connection is re-established with backoff when it drops, and
conversation groups are rejoined. Stop with Ctrl-C.

Example:
  hirechat listen
  hirechat listen --metrics-addr :9090 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func listen(opts *ListenOptions, cmd *cobra.Command) error {
	cfg := opts.Config

	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parentCtx)
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel(nil)
		case <-ctx.Done():
		}
	}()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start tracing", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = cfg.Telemetry.MetricsAddr
	}
	if addr != "" {
		stop := serveMetrics(addr, s.metrics.Handler(), func(err error) {
			cancel(fmt.Errorf("metrics server: %w", err))
		})
		defer stop()
	}

	s.hub.OnGiveUp(func(err error) {
		cancel(fmt.Errorf("hub unreachable: %w", err))
	})

	printer := &changePrinter{format: opts.Format, w: cmd.OutOrStdout(), engine: s.engine}
	sub := s.engine.Subscribe(printer.print)
	defer sub.Unsubscribe()

	if err := s.engine.LoadSummaries(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read cache", err)
	}
	if err := s.connect(ctx); err != nil {
		slog.Warn("initial connect failed, retrying", "error", err)
	}
	if err := s.engine.SyncConversations(ctx); err != nil {
		slog.Warn("conversation refresh failed, using cache", "error", err)
	}
	ids := make([]int64, 0)
	for _, sum := range s.engine.Summaries() {
		ids = append(ids, sum.ID)
	}
	if err := s.engine.JoinConversations(ctx, ids...); err != nil {
		slog.Warn("joining conversations failed; they are rejoined on reconnect", "error", err)
	}

	slog.Info("listening", "conversations", len(ids))
	opts.formatter(cmd).VerboseLog("Listening to %d conversations. Press Ctrl-C to stop.", len(ids))

	err = s.engine.Run(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return WrapExitError(ExitFailure, "listener stopped", cause)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("listener stopped gracefully")
	return nil
}

// serveMetrics serves h on addr until the returned func is called.
func serveMetrics(addr string, h http.Handler, onError func(error)) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onError(err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
}

// summarySource is the part of the engine a changePrinter reads.
type summarySource interface {
	Summary(conversationID int64) (chat.ConversationSummary, bool)
	Viewer() chat.Participant
}

// changePrinter writes one line per engine change.
type changePrinter struct {
	mu     sync.Mutex
	format string
	w      io.Writer
	engine summarySource
}

type changeLine struct {
	Kind         string                    `json:"kind"`
	Conversation int64                     `json:"conversationId,omitempty"`
	Summary      *chat.ConversationSummary `json:"summary,omitempty"`
}

func (p *changePrinter) print(c engine.Change) {
	// Message lists and drafts are echoed through their summary change.
	if c.Kind == engine.ChangeMessages || c.Kind == engine.ChangeDraft {
		return
	}

	line := changeLine{Kind: c.Kind.String(), Conversation: c.ConversationID}
	if c.ConversationID != 0 {
		if s, ok := p.engine.Summary(c.ConversationID); ok {
			line.Summary = &s
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		_ = json.NewEncoder(p.w).Encode(line)
		return
	}
	fmt.Fprintln(p.w, p.text(line))
}

func (p *changePrinter) text(line changeLine) string {
	if line.Summary == nil {
		if line.Conversation == 0 {
			return fmt.Sprintf("[%s]", line.Kind)
		}
		return fmt.Sprintf("[%s] conversation %d", line.Kind, line.Conversation)
	}

	s := line.Summary
	name, _ := s.Counterpart(p.engine.Viewer().Name)
	switch line.Kind {
	case engine.ChangeTyping.String():
		if len(s.WhosTyping) == 0 {
			return fmt.Sprintf("[typing] %d %s: stopped", s.ID, name)
		}
		typers := make([]string, 0, len(s.WhosTyping))
		for _, t := range s.WhosTyping {
			typers = append(typers, t.UserName)
		}
		return fmt.Sprintf("[typing] %d %s: %v", s.ID, name, typers)
	default:
		unread := ""
		if s.NewMessageUnread {
			unread = " (unread)"
		}
		return fmt.Sprintf("[%s] %d %s: %s%s", line.Kind, s.ID, name, preview(*s), unread)
	}
}
