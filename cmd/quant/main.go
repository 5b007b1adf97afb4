package main

import (
	"os"

	"quant/internal/btctl"
	"quant/internal/btd"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	args := os.Args[1:]
	if shouldRouteToCtl(args) {
		os.Exit(btctl.Run(args))
	}
	os.Exit(btd.Run(args))
}

func shouldRouteToCtl(args []string) bool {
	for _, a := range args {
		switch a {
		case "-backtest", "--backtest",
			"-portfolio", "--portfolio",
			"-optimize", "--optimize",
			"-history", "--history",
			"-h", "-help", "--help":
			return true
		}
	}
	return false
}
