package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "gpuscout",
		Short: "gpuscout - discover admissible GPU and walltime bounds on a shared cluster",
		Long: `gpuscout probes a Slurm cluster with cheap trial jobs to discover the
largest GPU count and longest walltime the scheduler will actually admit
for an account, then launches and manages allocations sized to fit.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
