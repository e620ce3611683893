// Command transfix-export exports archived generation jobs, with their
// images and metadata, into a zip archive.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
