package main

import (
	"os"

	"github.com/go-delve/bpengine/cmd/bpreplay/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
