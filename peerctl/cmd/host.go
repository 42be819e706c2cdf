package cmd

import (
	"fmt"
	"strings"

	"github.com/andydunstall/peerlink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(hostCmd)
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a chat that peers can join",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeMetrics := serveMetrics()
		defer closeMetrics()

		var transport peerlink.Transport
		session := peerlink.NewSession()
		listener := peerlink.NewChannelListener(0)
		out := cmd.OutOrStdout()

		broadcastPlayers := func() {
			var names []string
			for _, p := range session.Players() {
				names = append(names, p.Name)
			}
			m, err := peerlink.NewEventMessage(
				peerlink.NewTextEnvelope(peerlink.OpPlayerList, strings.Join(names, "\n")),
			)
			if err != nil {
				logger.Error("failed to build player list", zap.Error(err))
				return
			}
			if err := transport.Send(m); err != nil {
				logger.Error("failed to send player list", zap.Error(err))
			}
		}

		mux := peerlink.NewMux(listener, logger)
		mux.Handle(peerlink.OpConnect, func(m *peerlink.Message, env *peerlink.Envelope) {
			reserved, err := session.ReserveName(m.Addr, env.Data.Text)
			if err != nil {
				logger.Warn("rejected player", zap.String("addr", m.Addr), zap.Error(err))
				return
			}

			ack, err := peerlink.NewEventMessage(
				peerlink.NewTextEnvelope(peerlink.OpConnectAck, reserved),
			)
			if err != nil {
				logger.Error("failed to build connect ack", zap.Error(err))
				return
			}
			ack.Destinations = []string{m.Addr}
			if err := transport.Send(ack); err != nil {
				logger.Error("failed to send connect ack", zap.Error(err))
				return
			}

			fmt.Fprintf(out, "%s joined from %s\n", reserved, m.Addr)
			broadcastPlayers()
		})
		mux.Handle(peerlink.OpDisconnect, func(m *peerlink.Message, env *peerlink.Envelope) {
			if name, ok := session.Name(m.Addr); ok {
				fmt.Fprintf(out, "%s left\n", name)
			}
			session.Release(m.Addr)
			broadcastPlayers()
		})

		options := append(
			transportOptions(reg),
			peerlink.WithMessageListener(mux),
			peerlink.WithErrorListener(listener),
		)
		transport, err := peerlink.Create(cfg.Port, options...)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		if err := transport.Start(); err != nil {
			return fmt.Errorf("failed to start transport: %w", err)
		}
		defer transport.Stop()

		fmt.Fprintf(out, "hosting on %s as %s\n", transport.LocalAddr(), cfg.Name)

		c := newChat(cmd, listener, func(line string) error {
			return transport.Send(peerlink.NewTextMessage(line))
		})
		// Relay chat between joiners, since each joiner is only connected
		// to the host.
		c.onMessage = func(m *peerlink.Message) {
			var others []string
			for _, addr := range transport.Peers() {
				if addr != m.Addr {
					others = append(others, addr)
				}
			}
			if len(others) == 0 {
				return
			}
			relay := m.Clone()
			relay.Destinations = others
			if err := transport.Send(relay); err != nil {
				logger.Error("failed to relay message", zap.Error(err))
			}
		}
		c.Run(cmd.InOrStdin())
		return nil
	},
}
