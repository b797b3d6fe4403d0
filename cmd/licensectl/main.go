// cmd/licensectl/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(defaultRuntime()).ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("licensectl failed")
		stop()
		os.Exit(1)
	}
}
