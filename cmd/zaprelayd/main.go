package main

import (
	"flag"

	"github.com/rafaelmp2/zaprelay/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default <data_dir>/config.toml)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
