package main

import (
	"github.com/benchroom/benchroom/cmd"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/benchroom/benchroom/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("benchroom failure", "error", err)
	}
}
