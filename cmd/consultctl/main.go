package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lexconsult/consult-control-plane/internal/cli"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
