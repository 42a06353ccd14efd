package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/config"
)

var (
	buildOnnx       string
	buildEngine     string
	buildProfile    string
	buildInputName  string
	buildInputShape string
	buildWorkspace  int
	buildMin        int
	buildOpt        int
	buildMax        int
	buildNoFP16     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile an ONNX model into an engine",
	RunE: func(cmd *cobra.Command, args []string) error {

		prof := config.DefaultBuildProfile()

		if buildProfile != "" {
			var err error

			if prof, err = config.LoadBuildProfile(buildProfile); err != nil {
				return err
			}
		}

		// explicit flags override the profile file
		flags := cmd.Flags()

		if flags.Changed("onnx") || prof.Onnx == "" {
			prof.Onnx = buildOnnx
		}
		if flags.Changed("engine") || prof.Engine == "" {
			prof.Engine = buildEngine
		}
		if flags.Changed("input-name") {
			prof.InputName = buildInputName
		}
		if flags.Changed("input-shape") {
			shape, err := parseShape(buildInputShape)

			if err != nil {
				return err
			}

			prof.InputShape = shape
		}
		if flags.Changed("workspace") {
			prof.WorkspaceGB = buildWorkspace
		}
		if flags.Changed("min") {
			prof.Batch.Min = buildMin
		}
		if flags.Changed("opt") {
			prof.Batch.Opt = buildOpt
		}
		if flags.Changed("max") {
			prof.Batch.Max = buildMax
		}
		if flags.Changed("no-fp16") {
			prof.DisableFP16 = buildNoFP16
		}

		if prof.Onnx == "" || prof.Engine == "" {
			return fmt.Errorf("--onnx and --engine are required")
		}

		backend, err := newBackend()

		if err != nil {
			return err
		}

		defer backend.Close()

		cfg := prof.BuildConfig()

		fmt.Printf("Building %s engine...\n", backend.Name())
		fmt.Printf("ONNX Input: %s\n", cfg.OnnxPath)
		fmt.Printf("Engine Output: %s\n", cfg.EnginePath)
		fmt.Printf("Profile: %s, per-sample shape %s\n", cfg.Profile().String(), cfg.InputShape.String())

		if err := trtlite.BuildEngine(backend, cfg); err != nil {
			return fmt.Errorf("error building engine: %w", err)
		}

		fmt.Println("Engine built successfully!")
		return nil
	},
}

// parseShape parses a comma separated shape such as 3,224,224
func parseShape(s string) ([]int64, error) {

	parts := strings.Split(s, ",")
	shape := make([]int64, 0, len(parts))

	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)

		if err != nil {
			return nil, fmt.Errorf("invalid shape %q: %w", s, err)
		}

		shape = append(shape, v)
	}

	return shape, nil
}

func init() {
	def := trtlite.DefaultBuildConfig()

	buildCmd.Flags().StringVarP(&buildOnnx, "onnx", "x", "", "Path to the input ONNX model")
	buildCmd.Flags().StringVarP(&buildEngine, "engine", "e", "", "Path to the output engine file")
	buildCmd.Flags().StringVarP(&buildProfile, "config", "c", "", "YAML build profile, flags override its values")
	buildCmd.Flags().StringVar(&buildInputName, "input-name", def.InputName, "Name of the dynamic input in the ONNX graph")
	buildCmd.Flags().StringVar(&buildInputShape, "input-shape", "3,224,224", "Per-sample input shape")
	buildCmd.Flags().IntVarP(&buildWorkspace, "workspace", "w", def.WorkspaceGB, "Builder workspace size in GB")
	buildCmd.Flags().IntVar(&buildMin, "min", def.MinBatch, "Minimum inference batch")
	buildCmd.Flags().IntVar(&buildOpt, "opt", def.OptBatch, "Optimal inference batch")
	buildCmd.Flags().IntVar(&buildMax, "max", def.MaxBatch, "Maximum inference batch")
	buildCmd.Flags().BoolVar(&buildNoFP16, "no-fp16", false, "Do not enable FP16 even if the platform supports it")

	rootCmd.AddCommand(buildCmd)
}
