package annotate

import (
	"image"
	"image/color"
)

// strokeRect draws an outline whose outer pixels are tl and br, growing
// inward by stroke pixels. Everything is clipped to the image.
func strokeRect(img *image.NRGBA, tl, br image.Point, c color.NRGBA, stroke int) {
	if stroke < 1 {
		stroke = 1
	}
	for s := 0; s < stroke; s++ {
		top, bottom := tl.Y+s, br.Y-s
		left, right := tl.X+s, br.X-s
		if top > bottom || left > right {
			break
		}
		drawHLine(img, top, tl.X, br.X+1, c)
		drawHLine(img, bottom, tl.X, br.X+1, c)
		drawVLine(img, left, tl.Y, br.Y+1, c)
		drawVLine(img, right, tl.Y, br.Y+1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	if x0 >= x1 {
		return
	}
	i := img.PixOffset(x0, y)
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	if y0 >= y1 {
		return
	}
	i := img.PixOffset(x, y0)
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
