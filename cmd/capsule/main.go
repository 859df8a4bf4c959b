// Command capsule compiles a Python/JavaScript/TypeScript source file
// into a WebAssembly component and runs it inside the sandboxed
// engine host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "capsule",
		Short:         "Run sandboxed Python/JS/TS tasks as WebAssembly components",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "capsule:", err)
		os.Exit(1)
	}
}
