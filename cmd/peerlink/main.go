package main

import "github.com/rudransh-shrivastava/peerlink/internal/cli"

func main() {
	cli.Execute()
}
