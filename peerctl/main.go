// peerctl is a tool for chatting with and benchmarking peers on the local
// network.
package main

import (
	"github.com/andydunstall/peerlink/peerctl/cmd"
)

func main() {
	cmd.Execute()
}
