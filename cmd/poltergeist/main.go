// poltergeist is the build-orchestration daemon: it watches configured
// targets and rebuilds them on change, and exposes polter, a
// freshness-aware wrapper that runs a target's artifact directly.
package main

import (
	"os"

	"github.com/poltergeist/poltergeist/internal/cli"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	err := cli.Execute(version)
	os.Exit(cli.ExitCode(err))
}
