package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/bbernhard/cifar-playground/internal/history"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ok fails the test if an err is not nil.
func ok(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("unexpected error: %s", err.Error())
	}
}

// equals fails the test if exp is not equal to act.
func equals(tb testing.TB, act, exp interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		tb.Fatalf("exp: %#v\n\n\tgot: %#v", exp, act)
	}
}

// notEquals fails the test if exp is equal to act.
func notEquals(tb testing.TB, act, exp interface{}) {
	tb.Helper()
	if reflect.DeepEqual(exp, act) {
		tb.Fatalf("exp something different from: %#v", exp)
	}
}

// countingModel favours the class matching the dominant colour channel and
// counts forward passes.
type countingModel struct {
	calls int32
	fail  error
	// output replaces the computed distribution when set.
	output []float32
}

func (m *countingModel) Predict(in predict.Tensor) ([]float32, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.fail != nil {
		return nil, m.fail
	}
	if m.output != nil {
		return append([]float32(nil), m.output...), nil
	}
	var sums [3]float32
	for i, v := range in.Data {
		sums[i%3] += v
	}
	best := 0
	for c := range sums {
		if sums[c] > sums[best] {
			best = c
		}
	}
	out := make([]float32, 10)
	for i := range out {
		out[i] = 0.05
	}
	out[best] = 0.55
	return out, nil
}

func (m *countingModel) Close() error { return nil }

func (m *countingModel) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

type fixture struct {
	server     *Server
	model      *countingModel
	classifier *predict.Classifier
	history    *history.Buffer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	model := &countingModel{}
	classifier := predict.NewClassifier(predict.Options{
		Load: func(string) predict.LoadResult { return predict.LoadResult{Status: predict.Loaded, Model: model} },
	})
	ok(t, classifier.Load())
	hist := history.New(100)
	return &fixture{
		server:     New(classifier, hist, opts),
		model:      model,
		classifier: classifier,
		history:    hist,
	}
}

func pngImage(t testing.TB, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	ok(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var red = color.NRGBA{R: 250, G: 10, B: 10, A: 255}

// pngHeader is a complete PNG header for a w x h image with no pixel data.
func pngHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	binary.Write(&ihdr, binary.BigEndian, w)
	binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 2, 0, 0, 0})

	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&out, binary.BigEndian, uint32(ihdr.Len()-4))
	out.Write(ihdr.Bytes())
	binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return out.Bytes()
}

type upload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t testing.TB, url string, uploads ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.field, u.filename))
		h.Set("Content-Type", u.contentType)
		part, err := mw.CreatePart(h)
		ok(t, err)
		_, err = part.Write(u.data)
		ok(t, err)
	}
	ok(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}
