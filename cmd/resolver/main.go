package main

import (
	"context"
	"fmt"
	"os"

	"github.com/DevJSter/eth-suiResolver/cmd/resolver/commands"
)

func main() {
	root := commands.NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(commands.ExitCode(err))
}
