package main

import "os"

// Version is set at build time with -ldflags.
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
