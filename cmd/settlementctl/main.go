package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/delivery-settlement/pkg/shutdown"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operator tooling for the order and payment settlement services",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(publishCmd())

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
