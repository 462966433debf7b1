package main

import (
	"fmt"
	"os"

	"github.com/kirillkom/verified-rag/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "askctl:", err)
		os.Exit(1)
	}
}
