// Command chatclient is a terminal client for sessionchat.
//
//	chatclient -server http://localhost:8080 -token $TOKEN -as alice [-session s1]
//
// Lines starting with "/" are commands (/help lists them); anything else is
// sent to the joined session.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"sessionchat/internal/client"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("chatclient", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "sessionchat base URL")
	token := fs.String("token", os.Getenv("SESSIONCHAT_TOKEN"), "bearer token")
	self := fs.String("as", "", "your identity, used to highlight your own messages")
	sessionID := fs.String("session", "", "session to join on connect")
	attempts := fs.Int("attempts", 5, "reconnect attempts before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("a token is required (-token or SESSIONCHAT_TOKEN)")
	}

	base := strings.TrimRight(*server, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	out := newPrinter(stdout, *self)
	chat := &chatSession{
		printer: out,
		api:     newAPIClient(base, *token),
	}
	chat.client = client.New(client.Options{
		URL:         wsURL,
		Token:       client.StaticToken(*token),
		MaxAttempts: *attempts,
		OnState:     out.state,
	})
	if *sessionID != "" {
		// remembered and sent once connected
		_ = chat.client.Join(*sessionID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- chat.client.Run(ctx) }()
	go chat.consume(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return ignoreCanceled(<-runErr)
			}
			if quit := chat.handleLine(ctx, line); quit {
				cancel()
				return ignoreCanceled(<-runErr)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chatSession struct {
	client  *client.Client
	api     *apiClient
	printer *printer

	mu      sync.Mutex
	lastSeq int64
	lastID  string
}

// consume prints events and fetches missed history after every join.
func (c *chatSession) consume(ctx context.Context) {
	for ev := range c.client.Events() {
		switch e := ev.(type) {
		case protocol.SessionJoined:
			c.printer.event(ev)
			c.catchUp(ctx, e.SessionID)
		case protocol.NewMessage:
			c.show(e.Message)
		default:
			c.printer.event(ev)
		}
	}
}

// show prints m unless it was already printed.
func (c *chatSession) show(m *types.ChatMessage) {
	if m == nil {
		return
	}
	c.mu.Lock()
	if m.Sequence <= c.lastSeq {
		c.mu.Unlock()
		return
	}
	c.lastSeq = m.Sequence
	c.lastID = m.ID
	c.mu.Unlock()
	c.printer.message(m)
}

func (c *chatSession) catchUp(ctx context.Context, sessionID string) {
	c.mu.Lock()
	after := c.lastSeq
	c.mu.Unlock()

	page, err := c.api.history(ctx, sessionID, after)
	if err != nil {
		c.printer.errorf("history: %v", err)
		return
	}
	for _, m := range page.Messages {
		c.show(m)
	}
}

func (c *chatSession) resetHistory() {
	c.mu.Lock()
	c.lastSeq = 0
	c.lastID = ""
	c.mu.Unlock()
}

const helpText = `commands:
  /join <session>   join a session
  /leave            leave the current session
  /who              show who is online
  /read [message]   mark a message read (default: the latest)
  /typing, /stop    typing indicator on or off
  /ping             round trip to the server
  /quit             exit`

// handleLine runs one input line and reports whether the client should exit.
func (c *chatSession) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.report(c.client.Send(line))
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printer.plain(helpText)
	case "/join":
		if len(fields) != 2 {
			c.printer.errorf("usage: /join <session>")
			return false
		}
		if fields[1] != c.client.SessionID() {
			c.resetHistory()
		}
		c.report(c.client.Join(fields[1]))
	case "/leave":
		c.report(c.client.Leave())
	case "/who":
		resp, err := c.api.presence(ctx)
		if err != nil {
			c.printer.errorf("presence: %v", err)
			return false
		}
		c.printer.presenceTable(resp)
	case "/read":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
		} else {
			c.mu.Lock()
			id = c.lastID
			c.mu.Unlock()
		}
		if id == "" {
			c.printer.errorf("no message to mark read")
			return false
		}
		c.report(c.client.MarkRead(id))
	case "/typing":
		c.report(c.client.Typing(true))
	case "/stop":
		c.report(c.client.Typing(false))
	case "/ping":
		c.report(c.client.Ping())
	default:
		c.printer.errorf("unknown command %s, try /help", fields[0])
	}
	return false
}

func (c *chatSession) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, client.ErrNotConnected):
		c.printer.errorf("not connected, try again shortly")
	case errors.Is(err, client.ErrNotJoined):
		c.printer.errorf("join a session first: /join <session>")
	default:
		c.printer.errorf("%v", err)
	}
}
