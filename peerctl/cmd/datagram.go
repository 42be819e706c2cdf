package cmd

import (
	"fmt"

	"github.com/andydunstall/peerlink"
	"github.com/spf13/cobra"
)

var datagramPeers []string

func init() {
	datagramCmd.Flags().StringSliceVar(
		&datagramPeers, "peer", nil, "peer address to send to, such as 192.168.1.5 or 192.168.1.5:9000 (repeatable)",
	)

	rootCmd.AddCommand(datagramCmd)
}

var datagramCmd = &cobra.Command{
	Use:   "datagram",
	Short: "Chat with peers over datagrams",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers := cfg.Peers
		if cmd.Flags().Changed("peer") {
			peers = datagramPeers
		}
		if len(peers) == 0 {
			return fmt.Errorf("at least one --peer is required")
		}

		reg, closeMetrics := serveMetrics()
		defer closeMetrics()

		listener := peerlink.NewChannelListener(0)
		out := cmd.OutOrStdout()

		mux := peerlink.NewMux(listener, logger)
		mux.Handle(peerlink.OpDisconnect, func(m *peerlink.Message, env *peerlink.Envelope) {
			if m.Identity != nil {
				fmt.Fprintf(out, "%s (%s) left\n", m.Identity.Name, m.Addr)
				return
			}
			fmt.Fprintf(out, "%s left\n", m.Addr)
		})

		options := append(
			transportOptions(reg),
			peerlink.WithDatagram(true),
			peerlink.WithMessageListener(mux),
			peerlink.WithErrorListener(listener),
		)
		transport, err := peerlink.Create(cfg.Port, options...)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		if err := transport.Start(); err != nil {
			transport.Stop()
			return fmt.Errorf("failed to start transport: %w", err)
		}
		defer transport.Stop(peerlink.NotifyPeers(peers...))

		fmt.Fprintf(out, "sending to %v from %s as %s\n", peers, transport.LocalAddr(), cfg.Name)

		newChat(cmd, listener, func(line string) error {
			m := peerlink.NewTextMessage(line)
			m.Destinations = peers
			return transport.Send(m)
		}).Run(cmd.InOrStdin())
		return nil
	},
}
