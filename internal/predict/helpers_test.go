package predict

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
)

// softmaxModel derives one logit per class from the mean of a colour channel
// so that visually similar inputs yield similar distributions.
type softmaxModel struct {
	calls  int32
	closed int32
}

func (m *softmaxModel) Predict(in Tensor) ([]float32, error) {
	atomic.AddInt32(&m.calls, 1)

	var mean [InputChannels]float64
	for i, v := range in.Data {
		mean[i%InputChannels] += float64(v)
	}
	n := float64(len(in.Data) / InputChannels)
	logits := make([]float64, len(CIFAR10Labels))
	for i := range logits {
		c := i % InputChannels
		logits[i] = 4 * mean[c] / n * float64(i+1) / float64(len(logits))
	}
	return softmax(logits), nil
}

func (m *softmaxModel) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

// fixedModel returns the same output on every call.
type fixedModel struct {
	mu     sync.Mutex
	output []float32
	err    error
}

func (m *fixedModel) Predict(Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float32, len(m.output))
	copy(out, m.output)
	return out, nil
}

func (m *fixedModel) Close() error { return nil }

func softmax(logits []float64) []float32 {
	top := logits[0]
	for _, l := range logits {
		if l > top {
			top = l
		}
	}
	var sum float64
	exp := make([]float64, len(logits))
	for i, l := range logits {
		exp[i] = math.Exp(l - top)
		sum += exp[i]
	}
	out := make([]float32, len(logits))
	for i := range exp {
		out[i] = float32(exp[i] / sum)
	}
	return out
}

func loadedWith(m Model) LoaderFunc {
	return func(string) LoadResult { return LoadResult{Status: Loaded, Model: m} }
}

func fallbackWith(m Model) FallbackFunc {
	return func(int) (Model, error) { return m, nil }
}

var errBroken = errors.New("broken")

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// gradientImage ramps red along x and green along y with constant blue.
func gradientImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(255 * x / max(w-1, 1))
			img.Pix[i+1] = uint8(255 * y / max(h-1, 1))
			img.Pix[i+2] = 128
			img.Pix[i+3] = 255
		}
	}
	return img
}

// pngHeader returns a PNG signature and IHDR chunk claiming w x h RGB pixels
// with no image data behind it.
func pngHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	binary.Write(&ihdr, binary.BigEndian, w)
	binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 2, 0, 0, 0}) // 8 bit, truecolour

	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&out, binary.BigEndian, uint32(ihdr.Len()-4))
	out.Write(ihdr.Bytes())
	binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return out.Bytes()
}
