package menuimage

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader returns a PNG signature and IHDR chunk declaring a w x h
// grayscale image. DecodeConfig accepts it; Decode would need pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_, _ = crc.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func TestNormalizeReencodesAsJPEG(t *testing.T) {
	out, err := Normalize(context.Background(), Upload{FileName: "menu.png", Data: pngBytes(t, 40, 30, color.NRGBA{R: 200, A: 255})})
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestNormalizeDownscalesLongestSide(t *testing.T) {
	out, err := Normalize(context.Background(), Upload{Data: pngBytes(t, MaxDimension*2, 100, color.Black)})
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestNormalizeFlattensTransparency(t *testing.T) {
	out, err := Normalize(context.Background(), Upload{Data: pngBytes(t, 8, 8, color.NRGBA{})})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Greater(t, g, uint32(0xf000))
	assert.Greater(t, b, uint32(0xf000))
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		up   Upload
	}{
		{name: "empty", up: Upload{FileName: "a.jpg"}},
		{name: "text", up: Upload{FileName: "menu.txt", Data: []byte("Soup of the day")}},
		{name: "corrupt png", up: Upload{FileName: "menu.png", Data: []byte("\x89PNG\r\n\x1a\nnot really")}},
		{name: "too many pixels", up: Upload{FileName: "menu.png", Data: pngHeader(10000, 5000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(context.Background(), tt.up)
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}

func TestNormalizeChecksDimensionsBeforeDecoding(t *testing.T) {
	_, err := Normalize(context.Background(), Upload{FileName: "menu.png", Data: pngHeader(10000, 5000)})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.ErrorContains(t, err, "10000x5000 exceed limit")

	_, err = Normalize(context.Background(), Upload{FileName: "menu.png", Data: pngHeader(4000, 3000)})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.NotContains(t, err.Error(), "exceed limit")
}

func TestNormalizeAllIsAllOrNothing(t *testing.T) {
	good := Upload{FileName: "a.png", Data: pngBytes(t, 4, 4, color.White)}

	out, err := NormalizeAll(context.Background(), []Upload{good, good, good})
	require.NoError(t, err)
	assert.Len(t, out, 3)

	out, err = NormalizeAll(context.Background(), []Upload{good, {FileName: "b.txt", Data: []byte("hello")}, good})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Nil(t, out)
}
