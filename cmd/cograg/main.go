// Command cograg ingests documents into a layered vector index and serves
// retrieval over them. See `cograg --help`.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/cograg-go/cmd/cograg/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
