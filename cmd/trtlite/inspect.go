package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/swdee/go-trtlite"
)

var inspectEngine string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the bindings and optimization profile of an engine",
	RunE: func(cmd *cobra.Command, args []string) error {

		backend, err := newBackend()

		if err != nil {
			return err
		}

		defer backend.Close()

		engine, err := trtlite.LoadEngine(backend, inspectEngine)

		if err != nil {
			return err
		}

		defer engine.Close()

		return engine.Query(os.Stdout)
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectEngine, "engine", "e", "", "Path to the engine file")
	inspectCmd.MarkFlagRequired("engine")

	rootCmd.AddCommand(inspectCmd)
}
