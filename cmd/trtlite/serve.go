package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/config"
	"github.com/swdee/go-trtlite/postprocess"
	"github.com/swdee/go-trtlite/preprocess"
	"github.com/swdee/go-trtlite/server"
)

var (
	serveEngine    string
	serveClasses   string
	serveThreshold float64
	serveBGR       bool
	serveLetterbox bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve image classification over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {

		// environment supplies the defaults, flags override them
		env := config.LoadServer()
		flags := cmd.Flags()

		port := env.Port
		if flags.Changed("port") {
			port, _ = flags.GetInt("port")
		}

		poolSize := env.PoolSize
		if flags.Changed("pool") {
			poolSize, _ = flags.GetInt("pool")
		}

		batch := env.Batch
		if flags.Changed("batch") {
			batch, _ = flags.GetInt("batch")
		}

		if ortLib == "" {
			ortLib = env.OrtLibrary
		}

		labels, err := trtlite.LoadLabels(serveClasses)

		if err != nil {
			return err
		}

		backend, err := newBackend()

		if err != nil {
			return err
		}

		defer backend.Close()

		engine, err := trtlite.LoadEngine(backend, serveEngine)

		if err != nil {
			return err
		}

		defer engine.Close()

		pool, err := trtlite.NewPool(engine, poolSize, batch)

		if err != nil {
			return err
		}

		defer pool.Close()

		pre := preprocess.ImageNet()
		pre.BGR = serveBGR
		pre.Letterbox = serveLetterbox

		srv, err := server.New(pool, labels, server.Options{
			Preprocess: pre,
			Threshold:  serveThreshold,
		})

		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveEngine, "engine", "e", "", "Path to the engine file (required)")
	serveCmd.Flags().StringVarP(&serveClasses, "classes", "l", "", "Path to the class label file (required)")
	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port, defaults to $TRTLITE_PORT")
	serveCmd.Flags().Int("pool", 2, "Number of sessions, defaults to $TRTLITE_POOL_SIZE")
	serveCmd.Flags().IntP("batch", "b", 8, "Batch size of every session, defaults to $TRTLITE_BATCH")
	serveCmd.Flags().Float64Var(&serveThreshold, "threshold", postprocess.DefaultThreshold, "Minimum confidence in percent to report a class")
	serveCmd.Flags().BoolVar(&serveBGR, "bgr", false, "Keep BGR channel order in the input tensor")
	serveCmd.Flags().BoolVar(&serveLetterbox, "letterbox", false, "Keep the image aspect ratio and pad with black instead of stretching")
	serveCmd.MarkFlagRequired("engine")
	serveCmd.MarkFlagRequired("classes")

	rootCmd.AddCommand(serveCmd)
}
