package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andydunstall/peerlink"
	"github.com/spf13/cobra"
)

// chat runs an interactive session: each stdin line is passed to send and
// messages received by the listener are printed, until stdin closes or the
// process is interrupted.
type chat struct {
	listener *peerlink.ChannelListener

	// send is invoked with each non-empty line read from stdin.
	send func(line string) error
	// onMessage is invoked with each received message after it is
	// printed. May be nil.
	onMessage func(m *peerlink.Message)

	out    io.Writer
	errOut io.Writer
}

func newChat(cmd *cobra.Command, listener *peerlink.ChannelListener, send func(line string) error) *chat {
	return &chat{
		listener: listener,
		send:     send,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}
}

func (c *chat) Run(in io.Reader) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
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
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := c.send(line); err != nil {
				fmt.Fprintln(c.errOut, "failed to send:", err)
			}
		case m := <-c.listener.MessageCh:
			printMessage(c.out, m)
			if c.onMessage != nil {
				c.onMessage(m)
			}
		case sent := <-c.listener.SentCh:
			if err := sent.Results.Err(); err != nil {
				fmt.Fprintln(c.errOut, "failed to deliver:", err)
			}
		case err := <-c.listener.ErrorCh:
			fmt.Fprintln(c.errOut, "error:", err)
		}
	}
}

func printMessage(w io.Writer, m *peerlink.Message) {
	from := m.Addr
	if m.Identity != nil {
		from = fmt.Sprintf("%s (%s)", m.Identity.Name, m.Addr)
	}

	switch m.Kind {
	case peerlink.KindText:
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp(), from, m.Text())
	case peerlink.KindImage:
		fmt.Fprintf(w, "[%s] %s: <image %d bytes>\n", m.Timestamp(), from, len(m.Payload))
	default:
		fmt.Fprintf(w, "[%s] %s: <%s>\n", m.Timestamp(), from, m.Kind)
	}
}
