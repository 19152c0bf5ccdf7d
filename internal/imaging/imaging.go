// Package imaging converts between image files and the float32 tensors
// the pipeline works in, and extracts fixed-size feature vectors for the
// classifier.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"

	"vouch/internal/fileutil"
	"vouch/internal/tensor"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// LoadImage decodes a PNG or JPEG file into a [1, 3, H, W] tensor with
// values in [0, 1].
func LoadImage(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: open %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image to a [1, 3, H, W] tensor.
func FromImage(img image.Image) *tensor.Tensor {
	bounds := img.Bounds()
	height := bounds.Dy()
	width := bounds.Dx()
	out := tensor.New(1, 3, height, width)
	plane := height * width

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*width + x
			out.Data[idx] = float32(r) / 65535
			out.Data[plane+idx] = float32(g) / 65535
			out.Data[2*plane+idx] = float32(b) / 65535
		}
	}
	return out
}

// ToImage converts a [1, 3, H, W] tensor with values in [0, 1] to an
// RGBA image, clamping out-of-range values.
func ToImage(t *tensor.Tensor) (*image.RGBA, error) {
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("imaging: expected [1, 3, H, W] tensor, got shape %v", t.Shape)
	}
	height := t.Shape[2]
	width := t.Shape[3]
	plane := height * width

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(t.Data[idx]),
				G: toByte(t.Data[plane+idx]),
				B: toByte(t.Data[2*plane+idx]),
				A: 255,
			})
		}
	}
	return img, nil
}

// SavePNG writes a [1, 3, H, W] tensor as a PNG file, creating parent
// directories as needed.
func SavePNG(t *tensor.Tensor, path string) error {
	img, err := ToImage(t)
	if err != nil {
		return err
	}
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("imaging: ensure directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imaging: create %s: %w", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("imaging: encode %s: %w", path, err)
	}
	return nil
}

// Resize scales a [1, 3, H, W] tensor to the target square size using
// nearest-neighbor sampling.
func Resize(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("imaging: expected [1, 3, H, W] tensor, got shape %v", t.Shape)
	}
	srcH := t.Shape[2]
	srcW := t.Shape[3]
	srcPlane := srcH * srcW
	dstPlane := size * size

	out := tensor.New(1, 3, size, size)
	for c := 0; c < 3; c++ {
		for y := 0; y < size; y++ {
			srcY := y * srcH / size
			for x := 0; x < size; x++ {
				srcX := x * srcW / size
				out.Data[c*dstPlane+y*size+x] = t.Data[c*srcPlane+srcY*srcW+srcX]
			}
		}
	}
	return out, nil
}

// Features resizes an image tensor to size x size and flattens it to the
// fixed-length vector the classifier consumes.
func Features(t *tensor.Tensor, size int) ([]float32, error) {
	resized, err := Resize(t, size)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(resized.Data))
	copy(out, resized.Data)
	return out, nil
}

// ListImages returns the image files directly under dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("imaging: read directory %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
