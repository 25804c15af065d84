package main

import (
	"os"

	"github.com/lemonslut/that-news-thing-again/internal/util"
)

func main() {
	util.LoadEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
