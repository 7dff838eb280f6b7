package main

import (
	"github.com/onflow/sectionnet/cmd/sectiond/cmd"
)

func main() {
	cmd.Execute()
}
