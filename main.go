// Package main is the spectrum-notifier entry point.
package main

import (
	"os"

	"spectrum-notifier/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
