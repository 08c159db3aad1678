package annotate

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayScreenshot(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decode(t *testing.T, b64 string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestMarkDrawsBorders(t *testing.T) {
	src := grayScreenshot(t, 200, 100)

	out, err := Mark(src, []Box{{ID: 12, X: 40, Y: 20, W: 80, H: 40}})
	require.NoError(t, err)

	img := decode(t, out)
	// A border pixel well away from the label tab must be strongly red.
	r, g, b, _ := img.At(119, 40).RGBA()
	assert.Greater(t, r>>8, uint32(150), "border should be red")
	assert.Less(t, g>>8, uint32(100))
	assert.Less(t, b>>8, uint32(100))

	// Far outside the box the image is untouched gray.
	r, g, b, _ = img.At(10, 90).RGBA()
	assert.InDelta(t, 128, int(r>>8), 16)
	assert.InDelta(t, 128, int(g>>8), 16)
	assert.InDelta(t, 128, int(b>>8), 16)
}

func TestMarkNoBoxesPassthrough(t *testing.T) {
	src := grayScreenshot(t, 20, 20)
	out, err := Mark(src, nil)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestMarkClipsOutOfBounds(t *testing.T) {
	src := grayScreenshot(t, 50, 50)
	_, err := Mark(src, []Box{
		{ID: 1, X: -10, Y: -10, W: 30, H: 30},
		{ID: 2, X: 200, Y: 200, W: 30, H: 30},
	})
	assert.NoError(t, err)
}

func TestMarkRejectsGarbage(t *testing.T) {
	_, err := Mark("!!! not base64", []Box{{ID: 1, W: 10, H: 10}})
	assert.Error(t, err)

	_, err = Mark(base64.StdEncoding.EncodeToString([]byte("not an image")), []Box{{ID: 1, W: 10, H: 10}})
	assert.Error(t, err)
}

func TestMarkAcceptsDataURL(t *testing.T) {
	src := grayScreenshot(t, 30, 30)
	out, err := Mark("data:image/jpeg;base64,"+src, []Box{{ID: 3, X: 5, Y: 5, W: 10, H: 10}})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
