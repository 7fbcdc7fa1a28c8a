package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default ~/.wppgw/config.toml)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: load .env: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
		fx.StopTimeout(15*time.Second),
	)

	app.Run()
}
