package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/preprocess"
)

var testLabels = trtlite.Labels{"tench", "goldfish", "great white shark"}

func testConfig() preprocess.Config {
	return preprocess.Config{Width: 4, Height: 4, Std: [3]float32{1, 1, 1}}
}

func newTestServer(t *testing.T, poolSize, batch int) *Server {
	t.Helper()

	engine, err := trtlite.DeserializeEngine(newStubBackend(), []byte("stub"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	pool, err := trtlite.NewPool(engine, poolSize, batch)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	srv, err := New(pool, testLabels, Options{
		Preprocess: testConfig(),
		Threshold:  0.5,
	})
	require.NoError(t, err)

	return srv
}

// solidPNG encodes an 8x8 image of one color
func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, field string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, f := range files {
		fw, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)

		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func classifyRequest(t *testing.T, field string, files ...upload) *http.Request {
	t.Helper()

	body, contentType := multipartBody(t, field, files...)

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)

	return req
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 1, 2)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClassifyBatch(t *testing.T) {
	srv := newTestServer(t, 1, 4)

	req := classifyRequest(t, "image",
		upload{"red.png", solidPNG(t, color.RGBA{R: 255, A: 255})},
		upload{"black.png", solidPNG(t, color.RGBA{A: 255})},
	)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 4, resp.Batch)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, "red.png", resp.Results[0].File)
	require.Len(t, resp.Results[0].Classes, 1)
	assert.Equal(t, "great white shark", resp.Results[0].Classes[0].Name)
	assert.Equal(t, 2, resp.Results[0].Classes[0].Index)
	assert.Greater(t, resp.Results[0].Classes[0].Confidence, 99.0)

	assert.Equal(t, "black.png", resp.Results[1].File)
	require.Len(t, resp.Results[1].Classes, 1)
	assert.Equal(t, "tench", resp.Results[1].Classes[0].Name)
}

func TestClassifyRejectsOversizedBatch(t *testing.T) {
	srv := newTestServer(t, 1, 2)

	img := solidPNG(t, color.White)
	req := classifyRequest(t, "image",
		upload{"a.png", img}, upload{"b.png", img}, upload{"c.png", img})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds maximum of 2")
}

func TestClassifyBadRequests(t *testing.T) {
	srv := newTestServer(t, 1, 2)

	tests := []struct {
		name string
		req  *http.Request
		code int
	}{
		{
			name: "wrong method",
			req:  httptest.NewRequest(http.MethodGet, "/classify", nil),
			code: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			req:  httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader("x")),
			code: http.StatusBadRequest,
		},
		{
			name: "wrong field",
			req:  classifyRequest(t, "file", upload{"a.png", solidPNG(t, color.White)}),
			code: http.StatusBadRequest,
		},
		{
			name: "undecodable image",
			req:  classifyRequest(t, "image", upload{"a.png", []byte("not an image")}),
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestNewRejectsMismatchedPreprocessing(t *testing.T) {
	engine, err := trtlite.DeserializeEngine(newStubBackend(), []byte("stub"))
	require.NoError(t, err)
	defer engine.Close()

	pool, err := trtlite.NewPool(engine, 1, 1)
	require.NoError(t, err)
	defer pool.Close()

	_, err = New(pool, testLabels, Options{Preprocess: preprocess.ImageNet()})
	assert.ErrorIs(t, err, trtlite.ErrShapeBinding)

	_, err = New(pool, testLabels, Options{Preprocess: testConfig(), Output: "logits"})
	assert.Error(t, err)
}

func TestMetricsAndFeed(t *testing.T) {
	srv := newTestServer(t, 2, 2)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Feed().Clients() == 1 },
		2*time.Second, 10*time.Millisecond)

	body, contentType := multipartBody(t, "image", upload{"red.png", solidPNG(t, color.RGBA{R: 255, A: 255})})

	res, err := http.Post(ts.URL+"/classify", contentType, body)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var pushed ClassifyResponse
	require.NoError(t, json.Unmarshal(msg, &pushed))
	require.Len(t, pushed.Results, 1)
	assert.Equal(t, "red.png", pushed.Results[0].File)

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `trtlite_classify_requests_total{code="200"}`)
	assert.Contains(t, string(body), "trtlite_inference_duration_seconds")
}

func TestClassifyPoolClosed(t *testing.T) {
	srv := newTestServer(t, 2, 2)
	require.NoError(t, srv.pool.Close())

	req := classifyRequest(t, "image", upload{"red.png", solidPNG(t, color.RGBA{R: 255, A: 255})})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}
