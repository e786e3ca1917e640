package main

import (
	"os"

	"github.com/deploymenttheory/go-workflow-runner/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
