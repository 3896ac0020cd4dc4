package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/kinga-app/kinga/cmd"
	"github.com/kinga-app/kinga/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
)

func main() {
	root := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := root.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
