package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"crispdesk/internal/crisp"
	"crispdesk/internal/dispatch"
	"crispdesk/internal/domain"
)

// EventDispatcher accepts already decoded events.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, ev domain.InboundEvent) error
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Dispatcher     EventDispatcher
	Gateway        *crisp.MemoryGateway
	ConversationID string
	ChannelID      string
	ParticipantID  string
	HistoryFile    string
	Stdin          io.ReadCloser // nil = terminal
	Stdout         io.Writer     // nil = terminal
	Logger         *slog.Logger
}

// Console chats with the bot from a terminal. Lines typed by the user are
// recorded in an in-memory transcript and dispatched exactly like web hook
// messages; bot replies are printed as they are sent.
type Console struct {
	cfg ConsoleConfig
	out io.Writer
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.ConversationID == "" {
		cfg.ConversationID = "session_console"
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "console"
	}
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = "user"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{cfg: cfg}
}

// Run reads lines until EOF, /quit or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You> ",
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           c.cfg.Stdin,
		Stdout:          c.cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer rl.Close()

	c.out = rl.Stdout()
	c.cfg.Gateway.OnSend = c.printReply

	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	fmt.Fprintln(c.out, "crispdesk console. Say hello, pick a menu number, or type /quit to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if quit := c.handleLine(ctx, line); quit {
			return nil
		}
	}
}

// handleLine processes one typed line and reports whether the user quit.
func (c *Console) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit", "/q":
		return true
	}

	entry := c.cfg.Gateway.Say(c.cfg.ConversationID, line)
	ev := domain.InboundEvent{
		Kind:           domain.EventMessageSent,
		RawKind:        string(domain.EventMessageSent),
		ConversationID: c.cfg.ConversationID,
		ChannelID:      c.cfg.ChannelID,
		ParticipantID:  c.cfg.ParticipantID,
		MessageKind:    domain.MessageText,
		Content:        line,
		Timestamp:      entry.Timestamp,
		Fingerprint:    entry.Fingerprint,
		DeliveryID:     entry.Fingerprint,
	}
	err := c.cfg.Dispatcher.DispatchEvent(ctx, ev)
	switch {
	case err == nil, errors.Is(err, dispatch.ErrConversationBusy):
		// a running flow picks the line up from the transcript
	default:
		c.cfg.Logger.Warn("console message not dispatched", "err", err)
	}
	return false
}

func (c *Console) printReply(_ string, msg domain.OutgoingMessage) {
	fmt.Fprintf(c.out, "--- bot ---\n%s\n-----------\n", msg.Content)
}
