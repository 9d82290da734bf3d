package fundus

import (
	"fmt"
	"image"
	"runtime"

	"gocv.io/x/gocv"

	"fundus-cam/internal/model"
)

// DefaultInputSize is the square side length the classifier expects.
const DefaultInputSize = 224

// Preprocess resizes the image to size x size with OpenCV's bilinear
// interpolation and scales channel values to [0,1], producing the model
// input tensor.
func (im *Image) Preprocess(size int) (*model.Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}
	// OpenCV's RGBA2RGB and BGRA2BGR are the same code: drop alpha, keep order.
	rgb, err := im.convertedMat(gocv.ColorBGRAToBGR)
	if err != nil {
		return nil, err
	}
	defer rgb.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
	data := resized.ToBytes()

	t := model.NewTensor(size, size, 3)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := (y*size + x) * 3
			for c := 0; c < 3; c++ {
				t.Set(y, x, c, float64(data[o+c])/255.0)
			}
		}
	}
	return t, nil
}

// BGRMat converts the image to an 8-bit, 3-channel Mat in OpenCV's native
// blue-green-red order. The caller must Close it.
func (im *Image) BGRMat() (gocv.Mat, error) {
	return im.convertedMat(gocv.ColorRGBAToBGR)
}

func (im *Image) convertedMat(code gocv.ColorConversionCode) (gocv.Mat, error) {
	pix := im.RGBA.Pix
	rgba, err := gocv.NewMatFromBytes(im.Height(), im.Width(), gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create mat: %w", err)
	}
	defer rgba.Close()
	defer runtime.KeepAlive(pix)

	out := gocv.NewMat()
	gocv.CvtColor(rgba, &out, code)
	return out, nil
}
