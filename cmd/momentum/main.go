package main

import (
	"context"
	"os"

	"github.com/okian/momentum/internal/cli"
	"github.com/okian/momentum/pkg/logger"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Stderr.WriteString("momentum: " + err.Error() + "\n")
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}
