package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/makeworld-the-better-one/palquant/quant"
)

// subcommandContext returns the context of a "nearest" subcommand under a
// global context with --palette set to palette.
func subcommandContext(t *testing.T, palette string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	global := flag.NewFlagSet("palquant", flag.ContinueOnError)
	global.String("palette", "", "")
	require.NoError(t, global.Parse([]string{"--palette", palette, "nearest"}))

	return cli.NewContext(app, flag.NewFlagSet("nearest", flag.ContinueOnError), cli.NewContext(app, global, nil))
}

func TestParsePercentArg(t *testing.T) {
	tests := []struct {
		arg    string
		maxOne bool
		want   float64
	}{
		{"", false, 0},
		{"50%", false, 50},
		{"50%", true, 0.5},
		{"0.5", false, 50},
		{"0.5", true, 0.5},
		{"-20%", false, -20},
	}

	for _, tt := range tests {
		got, err := parsePercentArg(tt.arg, tt.maxOne)
		require.NoError(t, err, tt.arg)
		assert.InDelta(t, tt.want, got, 1e-9, tt.arg)
	}

	_, err := parsePercentArg("half", false)
	assert.Error(t, err)
	_, err = parsePercentArg("x%", true)
	assert.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, []string{"4", "4"}, parseArgs([]string{"4x4"}, " ,x"))
	assert.Equal(t, []string{"8", "2"}, parseArgs([]string{"8,", "2"}, " ,x"))
	assert.Empty(t, parseArgs([]string{"  "}, " "))
}

func TestHexToColor(t *testing.T) {
	tests := []struct {
		hex  string
		want color.NRGBA
	}{
		{"#ff0000", color.NRGBA{255, 0, 0, 255}},
		{"00FF00", color.NRGBA{0, 255, 0, 255}},
		{"#fff", color.NRGBA{255, 255, 255, 255}},
	}

	for _, tt := range tests {
		got, err := hexToColor(tt.hex)
		require.NoError(t, err, tt.hex)
		assert.Equal(t, tt.want, got, tt.hex)
	}

	_, err := hexToColor("#ggg")
	assert.Error(t, err)
}

func TestParseColors(t *testing.T) {
	colors, err := parseColors("palette", subcommandContext(t, "red 0 #0000ff 10,20,30 123456"))
	require.NoError(t, err)

	assert.Equal(t, []color.Color{
		color.NRGBA{255, 0, 0, 255},
		color.NRGBA{0, 0, 0, 255},
		color.NRGBA{0, 0, 255, 255},
		color.NRGBA{10, 20, 30, 255},
		color.NRGBA{0x12, 0x34, 0x56, 255},
	}, colors)
}

func TestParseColors_Invalid(t *testing.T) {
	for _, arg := range []string{"notacolor", "1,2,300"} {
		_, err := parseColors("palette", subcommandContext(t, arg))
		assert.Error(t, err, arg)
	}
}

func TestGetReference_ExplicitPalette(t *testing.T) {
	old := explicitPalette
	t.Cleanup(func() { explicitPalette = old })
	explicitPalette = []color.Color{color.NRGBA{0, 0, 0, 255}, color.NRGBA{255, 255, 255, 255}}

	buf, minOcc, eps, err := getReference()
	require.NoError(t, err)

	assert.Equal(t, 1, minOcc)
	assert.Less(t, eps, 1.0/255)
	assert.Equal(t, 2, buf.Width)
	assert.Equal(t, 1, buf.Height)
	assert.Equal(t, quant.Color{R: 1, G: 1, B: 1, A: 1}, buf.Pix[1])
}

func TestGetReference_ExplicitPaletteKeepsCloseColors(t *testing.T) {
	old := explicitPalette
	t.Cleanup(func() { explicitPalette = old })

	colors, err := parseColors("palette", subcommandContext(t, "0 10 20 255 10 1,0,0"))
	require.NoError(t, err)
	explicitPalette = colors

	buf, minOcc, eps, err := getReference()
	require.NoError(t, err)
	palette, _, err := quant.Extract(context.Background(), buf, quant.ExtractOptions{
		Epsilon:        eps,
		MinOccurrences: minOcc,
	})
	require.NoError(t, err)

	// The repeated 10 collapses, every other color survives in order.
	require.Len(t, palette, 5)
	for i, want := range []color.NRGBA{
		{0, 0, 0, 255},
		{10, 10, 10, 255},
		{20, 20, 20, 255},
		{255, 255, 255, 255},
		{1, 0, 0, 255},
	} {
		assert.Equal(t, want, palette[i].NRGBA(), "entry %d", i)
	}
}

func TestBufferFromImage_RoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}

	buf := bufferFromImage(img)
	require.NoError(t, buf.Validate())
	assert.Equal(t, 3, buf.Width)
	assert.Equal(t, 2, buf.Height)

	assert.Equal(t, img.Pix, imageFromBuffer(buf).Pix)
}

func TestBufferFromImage_OffsetBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(2, 2, color.NRGBA{1, 2, 3, 255})

	buf := bufferFromImage(img.SubImage(image.Rect(2, 2, 4, 4)))
	require.Equal(t, 4, buf.Len())
	assert.Equal(t, color.NRGBA{1, 2, 3, 255}, buf.Pix[0].NRGBA())
}

func TestPaletteQuantizer(t *testing.T) {
	p := color.Palette{color.Black, color.White}
	pq := &paletteQuantizer{p}

	got := pq.Quantize(make(color.Palette, 0, 256), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.Equal(t, p, got)
}

func TestWriteImage_GIF(t *testing.T) {
	oldFormat, oldFlags := outFormat, outFileFlags
	t.Cleanup(func() { outFormat, outFileFlags = oldFormat, oldFlags })
	outFormat = "gif"
	outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

	black := quant.Color{A: 1}
	white := quant.Color{R: 1, G: 1, B: 1, A: 1}
	buf := quant.Buffer{Width: 2, Height: 1, Pix: []quant.Color{white, black}}

	path := filepath.Join(t.TempDir(), "out.gif")
	require.NoError(t, writeImage(path, imageFromBuffer(buf), quant.Palette{black, white}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := gif.Decode(f)
	require.NoError(t, err)
	paletted, ok := img.(*image.Paletted)
	require.True(t, ok)
	assert.Len(t, paletted.Palette, 2)
	assert.Equal(t, uint8(1), paletted.ColorIndexAt(0, 0))
	assert.Equal(t, uint8(0), paletted.ColorIndexAt(1, 0))
}

func TestWriteImage_NoOverwrite(t *testing.T) {
	oldFormat, oldFlags := outFormat, outFileFlags
	t.Cleanup(func() { outFormat, outFileFlags = oldFormat, oldFlags })
	outFormat = "png"
	outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_EXCL

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err := writeImage(path, image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil)
	assert.ErrorIs(t, err, os.ErrExist)
}
