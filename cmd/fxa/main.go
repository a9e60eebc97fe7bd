// Package main is the entry point for the fxa CLI.
package main

import "github.com/mozilla-services/fxa-go/internal/cli"

func main() {
	cli.Execute()
}
