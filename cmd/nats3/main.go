package main

import (
	"fmt"
	"os"

	"github.com/nats3-io/nats3/cmd/nats3/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
