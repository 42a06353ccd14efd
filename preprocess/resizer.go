package preprocess

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// black is the letterbox padding color
var black = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// Resizer scales source images to the input tensor size, either stretching
// them or letterboxing to keep the aspect ratio
type Resizer struct {
	destWidth  int
	destHeight int
	// interp is the OpenCV interpolation used when scaling
	interp gocv.InterpolationFlags
	// letterbox keeps the aspect ratio and pads with padColor
	letterbox bool
	padColor  color.RGBA
	// tempMat holds the scaled image before padding
	tempMat gocv.Mat
}

// NewResizer returns a resizer that stretches images to destWidth x
// destHeight
func NewResizer(destWidth, destHeight int, interp gocv.InterpolationFlags) *Resizer {
	return &Resizer{
		destWidth:  destWidth,
		destHeight: destHeight,
		interp:     interp,
		tempMat:    gocv.NewMat(),
	}
}

// WithLetterbox switches the resizer to aspect preserving letterbox scaling
func (r *Resizer) WithLetterbox(pad color.RGBA) *Resizer {
	r.letterbox = true
	r.padColor = pad
	return r
}

// Close frees memory allocated during the resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// Letterbox describes how a source image was placed in the destination
type Letterbox struct {
	Scale float32
	XPad  int
	YPad  int
	// W and H are the dimensions of the scaled image before padding
	W int
	H int
}

// Fit calculates the letterbox placement of a srcWidth x srcHeight image
func (r *Resizer) Fit(srcWidth, srcHeight int) Letterbox {
	return fit(r.destWidth, r.destHeight, srcWidth, srcHeight)
}

// fit centers a srcWidth x srcHeight image scaled to fit inside
// destWidth x destHeight
func fit(destWidth, destHeight, srcWidth, srcHeight int) Letterbox {

	scaleW := float32(destWidth) / float32(srcWidth)
	scaleH := float32(destHeight) / float32(srcHeight)

	lb := Letterbox{
		Scale: scaleH,
		W:     destWidth,
		H:     destHeight,
	}

	if scaleW < scaleH {
		lb.Scale = scaleW
		lb.H = int(float32(srcHeight) * lb.Scale)
	} else {
		lb.W = int(float32(srcWidth) * lb.Scale)
	}

	lb.XPad = (destWidth - lb.W) / 2
	lb.YPad = (destHeight - lb.H) / 2

	return lb
}

// Resize scales src into dest
func (r *Resizer) Resize(src gocv.Mat, dest *gocv.Mat) {

	if !r.letterbox {
		gocv.Resize(src, dest, image.Pt(r.destWidth, r.destHeight), 0, 0, r.interp)
		return
	}

	lb := r.Fit(src.Cols(), src.Rows())

	gocv.Resize(src, &r.tempMat, image.Pt(lb.W, lb.H), 0, 0, r.interp)

	gocv.CopyMakeBorder(r.tempMat, dest, lb.YPad, r.destHeight-lb.H-lb.YPad,
		lb.XPad, r.destWidth-lb.W-lb.XPad, gocv.BorderConstant, r.padColor)
}
