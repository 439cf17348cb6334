package main

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peerlink/internal/cli"
)

func main() {
	if err := cli.NewTrackerCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
