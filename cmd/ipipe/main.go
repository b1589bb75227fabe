// Command ipipe runs the interrupt pipeline daemon and talks to it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/frobware/go-ipipe/cmd/ipipe/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ipipe: %v\n", err)
		os.Exit(1)
	}
}
