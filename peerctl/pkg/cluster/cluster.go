package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/andydunstall/peerlink"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Node struct {
	ID        string
	Port      int
	Transport peerlink.Transport

	received *atomic.Int64
	errors   *atomic.Int64
}

// Received returns the number of messages the node has received.
func (n *Node) Received() int64 {
	return n.received.Load()
}

// Errors returns the number of errors the node's transport has reported.
func (n *Node) Errors() int64 {
	return n.errors.Load()
}

// Addr returns the loopback address other nodes send to.
func (n *Node) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(n.Port))
}

func (n *Node) OnMessage(m *peerlink.Message) {
	n.received.Inc()
}

func (n *Node) OnMessageSent(m *peerlink.Message, results peerlink.Results) {
	n.errors.Add(int64(results.Failed()))
}

func (n *Node) OnError(description string) {
	n.errors.Inc()
}

func (n *Node) OnException(err error, context string) {
	n.errors.Inc()
}

// Cluster manages a set of local nodes used for benchmarking.
type Cluster struct {
	nodes    []*Node
	basePort int
	logger   *zap.Logger
}

// NewCluster returns a cluster whose nodes are assigned consecutive ports
// from basePort.
func NewCluster(basePort int, logger *zap.Logger) *Cluster {
	return &Cluster{
		basePort: basePort,
		logger:   logger,
	}
}

func (c *Cluster) Nodes() []*Node {
	return c.nodes
}

// AddDatagramNode adds a started datagram node.
func (c *Cluster) AddDatagramNode() (*Node, error) {
	node := c.newNode(c.basePort + len(c.nodes))
	transport, err := peerlink.Create(
		node.Port,
		peerlink.WithDatagram(true),
		// Every node sends from 127.0.0.1, so pin the local address to
		// something that never matches or every datagram is dropped as
		// our own.
		peerlink.WithLocalAddr(node.ID),
		peerlink.WithMessageListener(node),
		peerlink.WithErrorListener(node),
		peerlink.WithLogger(c.logger.With(zap.String("node-id", node.ID))),
	)
	if err != nil {
		return nil, err
	}
	return c.start(node, transport)
}

// AddHost adds a started stream host.
func (c *Cluster) AddHost() (*Node, error) {
	node := c.newNode(c.basePort + len(c.nodes))
	transport, err := peerlink.Create(
		node.Port,
		peerlink.WithMessageListener(node),
		peerlink.WithErrorListener(node),
		peerlink.WithLogger(c.logger.With(zap.String("node-id", node.ID))),
	)
	if err != nil {
		return nil, err
	}
	return c.start(node, transport)
}

// AddJoiner adds a node connected to the host. Since the host keys
// connections by IP, only one joiner per host is supported on loopback.
func (c *Cluster) AddJoiner(host *Node) (*Node, error) {
	node := c.newNode(host.Port)
	transport, err := peerlink.Create(
		host.Port,
		peerlink.WithServerAddr("127.0.0.1"),
		peerlink.WithMessageListener(node),
		peerlink.WithErrorListener(node),
		peerlink.WithLogger(c.logger.With(zap.String("node-id", node.ID))),
	)
	if err != nil {
		return nil, err
	}
	return c.start(node, transport)
}

func (c *Cluster) AddDatagramNodes(n int) error {
	var errs error
	for i := 0; i < n; i++ {
		if _, err := c.AddDatagramNode(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// Addrs returns the addresses of every node except the given node.
func (c *Cluster) Addrs(exclude *Node) []string {
	addrs := []string{}
	for _, node := range c.nodes {
		if node == exclude {
			continue
		}
		addrs = append(addrs, node.Addr())
	}
	return addrs
}

// WaitForReceived waits for every node except the sender to receive n
// messages.
func (c *Cluster) WaitForReceived(ctx context.Context, sender *Node, n int64) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done := true
			for _, node := range c.nodes {
				if node != sender && node.Received() < n {
					done = false
					break
				}
			}
			if done {
				return nil
			}
		}
	}
}

// WaitForPeers waits for the host to have n connected peers.
func (c *Cluster) WaitForPeers(ctx context.Context, host *Node, n int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(host.Transport.Peers()) >= n {
				return nil
			}
		}
	}
}

// Shutdown stops every node in reverse order, so joiners disconnect before
// their host.
func (c *Cluster) Shutdown() error {
	var errs error
	for i := len(c.nodes) - 1; i >= 0; i-- {
		if err := c.nodes[i].Transport.Stop(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	c.nodes = nil
	return errs
}

func (c *Cluster) newNode(port int) *Node {
	return &Node{
		ID:       uuid.New().String()[:7],
		Port:     port,
		received: atomic.NewInt64(0),
		errors:   atomic.NewInt64(0),
	}
}

func (c *Cluster) start(node *Node, transport peerlink.Transport) (*Node, error) {
	if err := transport.Start(); err != nil {
		transport.Stop()
		return nil, fmt.Errorf("failed to start node %s: %w", node.ID, err)
	}
	node.Transport = transport
	c.nodes = append(c.nodes, node)
	return node, nil
}
