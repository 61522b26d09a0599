package main

import (
	"context"
	"fmt"
	"os"

	"mcq_bot/internal/cli"
	"mcq_bot/pkg/logger"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
