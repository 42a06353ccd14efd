package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// Config describes how images are turned into planar CHW float32 tensors
type Config struct {
	Width  int
	Height int
	// Mean and Std are applied per output channel after scaling pixels to
	// [0, 1]
	Mean [3]float32
	Std  [3]float32
	// BGR keeps OpenCV's channel order in the output tensor instead of
	// converting to RGB
	BGR bool
	// Letterbox preserves the aspect ratio and pads with black instead of
	// stretching
	Letterbox bool
}

// ImageNet returns the 224x224 ImageNet normalization used by torchvision
// classifiers. The tensor is filled in RGB order. Pipelines that normalize
// OpenCV images directly, as cv2.imread followed by Normalize does, feed BGR
// instead; set BGR on the returned Config to match an engine exported that
// way.
func ImageNet() Config {
	return Config{
		Width:  224,
		Height: 224,
		Mean:   [3]float32{0.485, 0.456, 0.406},
		Std:    [3]float32{0.229, 0.224, 0.225},
	}
}

// SampleLen is the number of float32 elements of one preprocessed image
func (c Config) SampleLen() int {
	return 3 * c.Height * c.Width
}

// Shape is the per-sample tensor shape (3, height, width)
func (c Config) Shape() []int64 {
	return []int64{3, int64(c.Height), int64(c.Width)}
}

// Validate checks the config can produce a tensor
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid tensor size %dx%d", c.Width, c.Height)
	}

	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std of channel %d is zero", i)
		}
	}

	return nil
}

// Preprocessor converts images into normalized CHW tensors. It reuses its
// intermediate Mats and is not safe for concurrent use.
type Preprocessor struct {
	cfg     Config
	resizer *Resizer
	// colorMat, sizedMat and floatMat are reused between calls
	colorMat gocv.Mat
	sizedMat gocv.Mat
	floatMat gocv.Mat
}

// New returns a Preprocessor for cfg
func New(cfg Config) (*Preprocessor, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := NewResizer(cfg.Width, cfg.Height, gocv.InterpolationNearestNeighbor)

	if cfg.Letterbox {
		r.WithLetterbox(black)
	}

	return &Preprocessor{
		cfg:      cfg,
		resizer:  r,
		colorMat: gocv.NewMat(),
		sizedMat: gocv.NewMat(),
		floatMat: gocv.NewMat(),
	}, nil
}

// Config returns the preprocessing configuration
func (p *Preprocessor) Config() Config {
	return p.cfg
}

// Close frees the intermediate Mats
func (p *Preprocessor) Close() error {
	return errors.Join(
		p.resizer.Close(),
		p.colorMat.Close(),
		p.sizedMat.Close(),
		p.floatMat.Close(),
	)
}

// FromFile reads an image with OpenCV and preprocesses it
func (p *Preprocessor) FromFile(path string) ([]float32, error) {

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("error reading image from: %s", path)
	}

	return p.FromMat(img)
}

// FromMat preprocesses a BGR, BGRA or grayscale Mat
func (p *Preprocessor) FromMat(img gocv.Mat) ([]float32, error) {

	if img.Empty() {
		return nil, errors.New("image is empty")
	}

	// bring every input to 3 channel in the requested order
	switch img.Channels() {
	case 1:
		code := gocv.ColorGrayToRGB
		if p.cfg.BGR {
			code = gocv.ColorGrayToBGR
		}
		gocv.CvtColor(img, &p.colorMat, code)

	case 3:
		if p.cfg.BGR {
			img.CopyTo(&p.colorMat)
		} else {
			gocv.CvtColor(img, &p.colorMat, gocv.ColorBGRToRGB)
		}

	case 4:
		code := gocv.ColorBGRAToRGB
		if p.cfg.BGR {
			code = gocv.ColorBGRAToBGR
		}
		gocv.CvtColor(img, &p.colorMat, code)

	default:
		return nil, fmt.Errorf("unsupported number of channels %d", img.Channels())
	}

	p.resizer.Resize(p.colorMat, &p.sizedMat)

	// scale pixels to [0, 1]
	p.sizedMat.ConvertToWithParams(&p.floatMat, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	hwc, err := p.floatMat.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer to Mat: %w", err)
	}

	return p.planar(hwc), nil
}

// planar normalizes interleaved HWC pixels into a CHW tensor
func (p *Preprocessor) planar(hwc []float32) []float32 {

	plane := p.cfg.Width * p.cfg.Height
	out := make([]float32, 3*plane)

	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			out[c*plane+i] = (hwc[i*3+c] - p.cfg.Mean[c]) / p.cfg.Std[c]
		}
	}

	return out
}

// FromImage preprocesses a decoded Go image without OpenCV using nearest
// neighbour scaling
func (p *Preprocessor) FromImage(img image.Image) []float32 {
	return FromImage(p.cfg, img)
}

// FromImage preprocesses a decoded Go image for cfg. With Letterbox set the
// image keeps its aspect ratio and is centered on black padding.
func FromImage(cfg Config, img image.Image) []float32 {

	dst := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	rect := dst.Bounds()

	if cfg.Letterbox {
		src := img.Bounds()
		lb := fit(cfg.Width, cfg.Height, src.Dx(), src.Dy())
		rect = image.Rect(lb.XPad, lb.YPad, lb.XPad+lb.W, lb.YPad+lb.H)

		draw.Draw(dst, dst.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)
	}

	draw.NearestNeighbor.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)

	plane := cfg.Width * cfg.Height
	out := make([]float32, 3*plane)

	for i := 0; i < plane; i++ {
		px := dst.Pix[i*4 : i*4+3]
		r, g, b := float32(px[0])/255, float32(px[1])/255, float32(px[2])/255

		if cfg.BGR {
			r, b = b, r
		}

		out[i] = (r - cfg.Mean[0]) / cfg.Std[0]
		out[plane+i] = (g - cfg.Mean[1]) / cfg.Std[1]
		out[2*plane+i] = (b - cfg.Mean[2]) / cfg.Std[2]
	}

	return out
}
