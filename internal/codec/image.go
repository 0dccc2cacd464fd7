package codec

import (
	"image"
	"image/color"
)

// rgbImage adapts a packed RGB byte buffer to image.Image without the extra
// allocation and copy a conversion through image.RGBA (4 bytes/pixel) would
// cost; image/jpeg only ever calls At and Bounds during encoding.
type rgbImage struct {
	pix           []byte
	width, height int
}

func (m *rgbImage) ColorModel() color.Model { return color.RGBAModel }

func (m *rgbImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

func (m *rgbImage) At(x, y int) color.Color {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return color.RGBA{}
	}
	off := (y*m.width + x) * 3
	return color.RGBA{R: m.pix[off], G: m.pix[off+1], B: m.pix[off+2], A: 255}
}
