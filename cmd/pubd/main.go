// Package main is the single-binary entrypoint for pubd.
package main

import "github.com/easypub/pubd/internal/cli"

// version is set at build time via -ldflags.
var version = "0.1.0"

func main() {
	cli.Execute(version)
}
