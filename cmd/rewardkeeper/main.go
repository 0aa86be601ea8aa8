package main

import (
	"os"

	"github.com/solatis/rewardkeeper/cmd/rewardkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
