package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "vitrine",
		Short:   "Vitrine: content delivery cache with predictive prefetch",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newSeedCmd(),
		newSnapshotCmd(),
		newStoreCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
