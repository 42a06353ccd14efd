package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/postprocess"
	"github.com/swdee/go-trtlite/preprocess"
)

var (
	inferEngine    string
	inferInputs    []string
	inferClasses   string
	inferBatch     int
	inferThreshold float64
	inferBGR       bool
	inferLetterbox bool
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Classify images with a compiled engine",
	Long: `Classify images with a compiled engine.

A single --input image is repeated to fill --batch samples. Several --input
images run as one batch of that many samples.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		labels, err := trtlite.LoadLabels(inferClasses)

		if err != nil {
			return err
		}

		batchSize := inferBatch

		if len(inferInputs) > 1 {
			if cmd.Flags().Changed("batch") && inferBatch != len(inferInputs) {
				return fmt.Errorf("--batch %d does not match %d input images", inferBatch, len(inferInputs))
			}

			batchSize = len(inferInputs)
		}

		backend, err := newBackend()

		if err != nil {
			return err
		}

		defer backend.Close()

		fmt.Println("Loading and deserializing engine")

		engine, err := trtlite.LoadEngine(backend, inferEngine)

		if err != nil {
			return err
		}

		defer engine.Close()

		// out of range batches fail here before anything is allocated
		sess, err := engine.NewSession(batchSize)

		if err != nil {
			return err
		}

		defer sess.Close()

		cfg := preprocess.ImageNet()
		cfg.BGR = inferBGR
		cfg.Letterbox = inferLetterbox

		pre, err := preprocess.New(cfg)

		if err != nil {
			return err
		}

		defer pre.Close()

		var input []float32

		if len(inferInputs) == 1 {
			sample, err := pre.FromFile(inferInputs[0])

			if err != nil {
				return err
			}

			input = preprocess.Repeat(sample, batchSize)

		} else {
			batch := preprocess.NewBatch(batchSize, cfg.SampleLen())

			for _, path := range inferInputs {
				sample, err := pre.FromFile(path)

				if err != nil {
					return err
				}

				if err := batch.Add(sample); err != nil {
					return err
				}
			}

			input = batch.Data()
		}

		fmt.Println("Inferencing")
		start := time.Now()

		outs, err := sess.RunFloat32(input)

		if err != nil {
			return err
		}

		logits, err := outs.Output[0].Float32()

		if err != nil {
			return err
		}

		results, err := postprocess.ClassifyBatch(logits, batchSize, labels, inferThreshold)

		if err != nil {
			return err
		}

		for i, classes := range results {
			fmt.Printf("=== Image %d ===\n", i)

			for _, c := range classes {
				fmt.Println(c.String())
			}
		}

		fmt.Printf("Complete inferencing batch %d samples after %.4fs\n",
			batchSize, time.Since(start).Seconds())

		return nil
	},
}

func init() {
	inferCmd.Flags().StringVarP(&inferEngine, "engine", "e", "", "Path to the built engine file")
	inferCmd.Flags().StringSliceVarP(&inferInputs, "input", "i", nil, "Input image path, repeat for several images")
	inferCmd.Flags().StringVarP(&inferClasses, "classes", "l", "", "Path to the class label file")
	inferCmd.Flags().IntVarP(&inferBatch, "batch", "b", 1, "Inference batch size")
	inferCmd.Flags().Float64Var(&inferThreshold, "threshold", postprocess.DefaultThreshold, "Minimum confidence in percent to report a class")
	inferCmd.Flags().BoolVar(&inferBGR, "bgr", false, "Keep OpenCV BGR channel order in the input tensor")
	inferCmd.Flags().BoolVar(&inferLetterbox, "letterbox", false, "Keep the image aspect ratio and pad with black instead of stretching")
	inferCmd.MarkFlagRequired("engine")
	inferCmd.MarkFlagRequired("input")
	inferCmd.MarkFlagRequired("classes")

	rootCmd.AddCommand(inferCmd)
}
