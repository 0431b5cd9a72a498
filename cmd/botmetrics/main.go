package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/MaheshSundaramurthy/botmetrics/internal/cli"
)

func main() {
	// best effort; BOTMETRICS_* may come from a local .env
	_ = godotenv.Load(".env")

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
