package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/GoCodeAlone/blueberry/cmd/blueberry/cmd"
)

func init() {
	// Main-thread applications run on the goroutine main starts on, which
	// must stay on the process main thread.
	runtime.LockOSThread()
}

func main() {
	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		cmd.OsExit(1)
	}
}
