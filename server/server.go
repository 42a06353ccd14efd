// Package server exposes image classification over HTTP using a pool of
// engine Sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/postprocess"
	"github.com/swdee/go-trtlite/preprocess"
	_ "golang.org/x/image/webp"
)

// maxUploadBytes caps the multipart form kept in memory
const maxUploadBytes = 32 << 20

// Options configure a Server
type Options struct {
	// Preprocess is how uploaded images become input tensors, its sample
	// shape must match the engine input
	Preprocess preprocess.Config
	// Threshold is the confidence in percent a class must exceed
	Threshold float64
	// Output is the name of the output binding holding the logits, empty
	// selects the first output
	Output string
}

// Server handles classify requests
type Server struct {
	pool *trtlite.Pool
	// batches holds one input tensor per session
	batches *preprocess.BatchPool
	labels  trtlite.Labels
	opts    Options
	feed    *Broadcaster
	log     logr.Logger
	mux     *http.ServeMux
}

// ClassifyResult is the classification of one uploaded file
type ClassifyResult struct {
	File    string              `json:"file"`
	Classes []postprocess.Class `json:"classes"`
}

// ClassifyResponse is the JSON body returned by /classify and pushed to the
// /ws feed
type ClassifyResponse struct {
	Results []ClassifyResult `json:"results"`
	// Batch is the session batch size the images ran in
	Batch     int     `json:"batch"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

// New returns a Server classifying with the sessions of pool
func New(pool *trtlite.Pool, labels trtlite.Labels, opts Options) (*Server, error) {

	if err := opts.Preprocess.Validate(); err != nil {
		return nil, err
	}

	engine := pool.Engine()
	inputs := engine.Inputs()

	if len(inputs) != 1 {
		return nil, fmt.Errorf("engine has %d inputs, classification needs exactly one", len(inputs))
	}

	sample := inputs[0].Shape[1:]

	if sample.Volume() != int64(opts.Preprocess.SampleLen()) {
		return nil, fmt.Errorf("%w: engine input %q has per-sample shape %s, preprocessing produces %v",
			trtlite.ErrShapeBinding, inputs[0].Name, sample.String(), opts.Preprocess.Shape())
	}

	if opts.Output == "" {
		opts.Output = engine.Outputs()[0].Name
	} else if _, ok := engine.Binding(opts.Output); !ok {
		return nil, fmt.Errorf("engine has no output %q", opts.Output)
	}

	log := trtlite.Logger().WithName("server")

	s := &Server{
		pool:    pool,
		batches: preprocess.NewBatchPool(pool.Size(), pool.Batch(), opts.Preprocess.SampleLen()),
		labels:  labels,
		opts:    opts,
		feed:    NewBroadcaster(log),
		log:     log,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/classify", s.handleClassify)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.feed.HandleWS)

	return s, nil
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Feed returns the broadcaster of completed classifications
func (s *Server) Feed() *Broadcaster {
	return s.feed
}

// ListenAndServe serves on port until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, port int) error {

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.feed.Close()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("REST API listening", "addr", srv.Addr, "batch", s.pool.Batch(),
		"sessions", s.pool.Size())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to parse multipart form")
		return
	}

	files := r.MultipartForm.File["image"]

	if len(files) == 0 {
		s.fail(w, http.StatusBadRequest, "Failed to read image from form. Key must be 'image'")
		return
	}

	// a request is one batch and must fit the sessions' binding
	if len(files) > s.pool.Batch() {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("batch of %d images exceeds maximum of %d",
			len(files), s.pool.Batch()))
		return
	}

	batch := s.batches.Get()
	defer s.batches.Return(batch)

	names := make([]string, len(files))

	for i, fh := range files {
		f, err := fh.Open()

		if err != nil {
			s.fail(w, http.StatusBadRequest, "Failed to read image data")
			return
		}

		img, _, err := image.Decode(f)
		f.Close()

		if err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("Failed to decode image %s", fh.Filename))
			return
		}

		if err := batch.Add(preprocess.FromImage(s.opts.Preprocess, img)); err != nil {
			s.fail(w, http.StatusInternalServerError, err.Error())
			return
		}

		names[i] = fh.Filename
	}

	start := time.Now()
	classes, err := s.classify(r.Context(), batch)

	if err != nil {
		s.log.Error(err, "inference failed", "images", len(files))

		code := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			code = http.StatusRequestTimeout
		} else if errors.Is(err, trtlite.ErrClosed) {
			code = http.StatusServiceUnavailable
		}

		s.fail(w, code, "Inference processing failed")
		return
	}

	resp := ClassifyResponse{
		Batch:     s.pool.Batch(),
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000,
	}

	for i, name := range names {
		resp.Results = append(resp.Results, ClassifyResult{File: name, Classes: classes[i]})
	}

	imagesTotal.Add(float64(len(names)))
	batchFill.Observe(float64(len(names)))

	s.log.V(1).Info("classified batch", "images", len(names), "elapsed", time.Since(start).String())

	requestsTotal.WithLabelValues("200").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	s.feed.Broadcast(resp)
}

// classify runs batch on a pooled session and interprets the first
// batch.Len() samples
func (s *Server) classify(ctx context.Context, batch *preprocess.Batch) ([][]postprocess.Class, error) {

	sess, err := s.acquire(ctx)

	if err != nil {
		return nil, err
	}

	defer func() {
		s.pool.Return(sess)
		sessionsInUse.Dec()
	}()

	start := time.Now()
	outs, err := sess.RunFloat32(batch.Data())

	if err != nil {
		return nil, err
	}

	inferenceDuration.Observe(time.Since(start).Seconds())

	out, ok := outs.Get(s.opts.Output)

	if !ok {
		return nil, fmt.Errorf("missing output %q", s.opts.Output)
	}

	logits, err := out.Float32()

	if err != nil {
		return nil, err
	}

	rows, err := postprocess.Reshape(logits, outs.Batch)

	if err != nil {
		return nil, err
	}

	results := make([][]postprocess.Class, batch.Len())

	// padding samples past batch.Len() are ignored
	for i := range results {
		results[i], err = postprocess.Classify(rows[i], s.labels, s.opts.Threshold)

		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// acquire waits for a free session or for the client to go away
func (s *Server) acquire(ctx context.Context) (*trtlite.Session, error) {

	type result struct {
		sess *trtlite.Session
		ok   bool
	}

	ch := make(chan result, 1)

	go func() {
		sess, ok := s.pool.Get()
		ch <- result{sess, ok}
	}()

	select {
	case res := <-ch:
		if !res.ok {
			return nil, fmt.Errorf("session pool: %w", trtlite.ErrClosed)
		}

		sessionsInUse.Inc()
		return res.sess, nil

	case <-ctx.Done():
		// hand the session back once the pending Get completes
		go func() {
			if res := <-ch; res.ok {
				s.pool.Return(res.sess)
			}
		}()

		return nil, ctx.Err()
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	requestsTotal.WithLabelValues(fmt.Sprint(code)).Inc()
	http.Error(w, msg, code)
}
