package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"heartbeat/internal/app"
	"heartbeat/internal/event"
	"heartbeat/internal/source"
	"heartbeat/pkg/logx"
)

func main() {
	var (
		cfgPath    string
		replayPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&replayPath, "replay", "", "optional JSONL event script to replay (\"-\" for stdin)")
	flag.Parse()

	// .env is optional; secrets like HEARTBEAT_TELEGRAM_TOKEN live there in dev.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var src event.Source
	if replayPath != "" {
		src = source.NewReplay(replayPath, logx.NewConsole("INFO"))
	}

	a, err := app.New(cfgPath, src)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
