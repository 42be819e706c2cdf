package cmd

import (
	"fmt"
	"strings"

	"github.com/andydunstall/peerlink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(joinCmd)
}

var joinCmd = &cobra.Command{
	Use:   "join <host-addr>",
	Short: "Join a chat hosted by another peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeMetrics := serveMetrics()
		defer closeMetrics()

		listener := peerlink.NewChannelListener(0)
		out := cmd.OutOrStdout()

		mux := peerlink.NewMux(listener, logger)
		mux.Handle(peerlink.OpConnectAck, func(m *peerlink.Message, env *peerlink.Envelope) {
			fmt.Fprintf(out, "joined %s as %s\n", m.Addr, env.Data.Text)
		})
		mux.Handle(peerlink.OpPlayerList, func(m *peerlink.Message, env *peerlink.Envelope) {
			players := strings.Split(env.Data.Text, "\n")
			fmt.Fprintf(out, "players: %s\n", strings.Join(players, ", "))
		})

		options := append(
			transportOptions(reg),
			peerlink.WithServerAddr(args[0]),
			peerlink.WithMessageListener(mux),
			peerlink.WithErrorListener(listener),
		)
		transport, err := peerlink.Create(cfg.Port, options...)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		if err := transport.Start(); err != nil {
			transport.Stop()
			return fmt.Errorf("failed to join %s: %w", args[0], err)
		}
		defer transport.Stop()

		connect, err := peerlink.NewEventMessage(
			peerlink.NewTextEnvelope(peerlink.OpConnect, cfg.Name),
		)
		if err != nil {
			return err
		}
		if err := transport.Send(connect); err != nil {
			return fmt.Errorf("failed to send connect: %w", err)
		}

		newChat(cmd, listener, func(line string) error {
			return transport.Send(peerlink.NewTextMessage(line))
		}).Run(cmd.InOrStdin())

		disconnect, err := peerlink.NewEventMessage(peerlink.NewEnvelope(peerlink.OpDisconnect))
		if err != nil {
			return err
		}
		// Queued before the deferred stop so it is written before the
		// connection closes.
		if err := transport.Send(disconnect); err != nil {
			logger.Warn("failed to send disconnect", zap.Error(err))
		}
		return nil
	},
}
