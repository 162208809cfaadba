package main

import (
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"sessionchat/internal/api"
	"sessionchat/internal/client"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

var (
	infoColor   = color.New(color.FgCyan)
	selfColor   = color.New(color.FgGreen)
	peerColor   = color.New(color.FgYellow)
	systemColor = color.New(color.FgMagenta)
	errorColor  = color.New(color.FgRed)
	faintColor  = color.New(color.Faint)
)

// printer renders events for a terminal. Safe for concurrent use.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	self string
}

func newPrinter(out io.Writer, self string) *printer {
	return &printer{out: out, self: self}
}

func (p *printer) state(s client.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch s {
	case client.StateConnected:
		infoColor.Fprintln(p.out, "* connected")
	case client.StateGivingUp:
		errorColor.Fprintln(p.out, "* giving up, server unreachable")
	default:
		faintColor.Fprintf(p.out, "* %s\n", s)
	}
}

func (p *printer) message(m *types.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageLocked(m)
}

func (p *printer) messageLocked(m *types.ChatMessage) {
	stamp := m.CreatedAt.Local().Format("15:04")
	switch {
	case m.Kind == types.MessageKindSystem:
		systemColor.Fprintf(p.out, "[%s] ** %s\n", stamp, m.Body)
	case m.SenderID == p.self:
		selfColor.Fprintf(p.out, "[%s] %s: %s\n", stamp, m.SenderID, m.Body)
	default:
		peerColor.Fprintf(p.out, "[%s] %s: %s\n", stamp, m.SenderID, m.Body)
	}
}

func (p *printer) event(ev protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case protocol.SessionJoined:
		infoColor.Fprintf(p.out, "* joined %s as %s (open until %s)\n",
			e.SessionID, e.Session.Role, e.SessionTime.WindowEnd.Local().Format(time.Kitchen))
	case protocol.AccessDenied:
		errorColor.Fprintf(p.out, "* access denied (%s): %s\n", e.Reason, e.Message)
		if e.SessionTime != nil {
			errorColor.Fprintf(p.out, "  the session opens at %s\n", e.SessionTime.WindowStart.Local().Format(time.RFC1123))
		}
	case protocol.ErrorEvent:
		errorColor.Fprintf(p.out, "! %s: %s\n", e.Code, e.Message)
	case protocol.NewMessage:
		if e.Message != nil {
			p.messageLocked(e.Message)
		}
	case protocol.MessageRead:
		if e.Receipt.ReaderID != p.self {
			faintColor.Fprintf(p.out, "  read by %s\n", e.Receipt.ReaderID)
		}
	case protocol.UserOnline:
		infoColor.Fprintf(p.out, "* %s is online\n", e.Identity)
	case protocol.UserOffline:
		infoColor.Fprintf(p.out, "* %s went offline\n", e.Identity)
	case protocol.OnlineUsers:
		infoColor.Fprintf(p.out, "* online: %v\n", e.Users)
	case protocol.UserTyping:
		if e.Identity != p.self {
			faintColor.Fprintf(p.out, "  %s is typing...\n", e.Identity)
		}
	case protocol.UserStoppedTyping:
	case protocol.Pong:
		faintColor.Fprintf(p.out, "* pong (server time %s)\n", e.ServerTime.Local().Format(time.TimeOnly))
	}
}

func (p *printer) plain(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, text+"\n")
}

func (p *printer) errorf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	errorColor.Fprintf(p.out, "! "+format+"\n", args...)
}

// presenceTable renders one row per live connection when records are
// available (operators), otherwise one row per online identity.
func (p *printer) presenceTable(resp api.PresenceResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(resp.Online) == 0 && len(resp.Records) == 0 {
		faintColor.Fprintln(p.out, "* nobody online")
		return
	}

	table := tablewriter.NewWriter(p.out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	if len(resp.Records) == 0 {
		table.SetHeader([]string{"Identity"})
		for _, id := range resp.Online {
			table.Append([]string{id})
		}
		table.Render()
		return
	}

	table.SetHeader([]string{"Identity", "Role", "Connection", "Since"})
	for _, r := range resp.Records {
		conn := r.ConnectionID
		if len(conn) > 8 {
			conn = conn[:8]
		}
		table.Append([]string{r.Identity, r.Role, conn, r.ConnectedAt.Local().Format(time.DateTime)})
	}
	table.Render()
}
