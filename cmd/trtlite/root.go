package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/swdee/go-trtlite"
)

var (
	deviceID  int
	ortLib    string
	provider  string
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:           "trtlite",
	Short:         "Build and run image classification engines",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		stdr.SetVerbosity(verbosity)
		trtlite.SetLogger(stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("trtlite"))
	},
}

// Execute runs the root command and exits non zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newBackend initializes the runtime compiled into this binary from the
// global flags
func newBackend() (trtlite.Backend, error) {
	backend, err := trtlite.NewBackend(trtlite.BackendConfig{
		DeviceID:          deviceID,
		SharedLibraryPath: ortLib,
		Provider:          provider,
	})

	if err != nil {
		return nil, fmt.Errorf("error initializing %s runtime: %w", trtlite.BackendName, err)
	}

	return backend, nil
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&deviceID, "device", "d", 0, "GPU device to use")
	rootCmd.PersistentFlags().StringVar(&ortLib, "ort-lib", "", "Path to the onnxruntime shared library, defaults to $ORT_SHARED_LIBRARY_PATH")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", trtlite.ProviderCPU, "ONNX Runtime execution provider, cpu or cuda")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "Log verbosity, 2 includes native runtime messages")
}
