package main

import (
	"os"

	"github.com/adergaoui/b2up/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
