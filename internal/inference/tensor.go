package inference

import (
	"image"
	"runtime"
	"sync"
)

// PackCHW writes img as planar RGB float32 in [0,1] into dst, which must
// hold 3*w*h values where w,h are the image dimensions. Rows are split
// across GOMAXPROCS workers.
func PackCHW(img image.Image, dst []float32) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channelSize := width * height

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if numWorkers < 1 {
		return
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			packRows(img, dst, start, end, width, channelSize)
		}(startRow, endRow)
	}

	wg.Wait()
}

func packRows(img image.Image, dst []float32, start, end, width, channelSize int) {
	bounds := img.Bounds()

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := start; y < end; y++ {
			rowStart := nrgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := nrgba.Pix[rowStart : rowStart+width*4]
			offset := y * width
			for x := 0; x < width; x++ {
				i := offset + x
				dst[i] = float32(row[x*4]) / 255.0
				dst[channelSize+i] = float32(row[x*4+1]) / 255.0
				dst[channelSize*2+i] = float32(row[x*4+2]) / 255.0
			}
		}
		return
	}

	for y := start; y < end; y++ {
		offset := y * width
		for x := 0; x < width; x++ {
			i := offset + x
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			dst[i] = float32(r>>8) / 255.0
			dst[channelSize+i] = float32(g>>8) / 255.0
			dst[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
