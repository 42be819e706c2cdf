package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/andydunstall/peerlink"
	"github.com/andydunstall/peerlink/peerctl/pkg/cluster"
	"github.com/spf13/cobra"
)

var (
	benchNodes    int
	benchMessages int
	benchSize     int
	benchTimeout  time.Duration
	benchStream   bool
)

func init() {
	flags := benchCmd.Flags()
	flags.IntVar(&benchNodes, "nodes", 8, "number of datagram nodes")
	flags.IntVar(&benchMessages, "messages", 100, "number of messages to send")
	flags.IntVar(&benchSize, "size", 256, "payload size in bytes")
	flags.DurationVar(&benchTimeout, "timeout", 10*time.Second, "time to wait for delivery")
	flags.BoolVar(&benchStream, "stream", false, "benchmark a stream host and joiner instead of datagrams")

	rootCmd.AddCommand(benchCmd)
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure the time for messages to be delivered between local nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cluster.NewCluster(cfg.Port, logger)
		defer c.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), benchTimeout)
		defer cancel()

		var sender *cluster.Node
		var dests []string
		if benchStream {
			host, err := c.AddHost()
			if err != nil {
				return fmt.Errorf("failed to add host: %w", err)
			}
			if sender, err = c.AddJoiner(host); err != nil {
				return fmt.Errorf("failed to add joiner: %w", err)
			}
			if err := c.WaitForPeers(ctx, host, 1); err != nil {
				return fmt.Errorf("timed out waiting for joiner to connect: %w", err)
			}
		} else {
			if err := c.AddDatagramNodes(benchNodes); err != nil {
				return fmt.Errorf("failed to add nodes: %w", err)
			}
			sender = c.Nodes()[0]
			dests = c.Addrs(sender)
		}

		payload := make([]byte, benchSize)
		start := time.Now()
		for i := 0; i != benchMessages; i++ {
			m := peerlink.NewImageMessage(payload)
			m.Destinations = dests
			if err := sender.Transport.Send(m); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
		}

		err := c.WaitForReceived(ctx, sender, int64(benchMessages))
		elapsed := time.Since(start)

		out := cmd.OutOrStdout()
		for _, node := range c.Nodes() {
			if node == sender {
				continue
			}
			fmt.Fprintf(
				out, "node %s: received %d/%d, errors %d\n",
				node.ID, node.Received(), benchMessages, node.Errors(),
			)
		}
		if err != nil {
			return fmt.Errorf("timed out waiting for delivery: %w", err)
		}
		fmt.Fprintf(out, "delivered %d messages in %s\n", benchMessages, elapsed)
		return nil
	},
}
