package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version 编译时通过 -ldflags "-X main.Version=..." 注入
	Version = "dev"

	configFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gamenet",
		Short:         "Multi-transport game network server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	root.AddCommand(newServeCmd(), newPingCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "gamenet", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
