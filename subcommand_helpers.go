package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/mccutchen/palettor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/image/colornames"
	_ "golang.org/x/image/webp"

	"github.com/makeworld-the-better-one/palquant/internal/metrics"
	"github.com/makeworld-the-better-one/palquant/quant"
)

// parsePercentArg takes a string like "0.5" or "50%" and will return a float
// like 50 or 0.5, depending on the second argument. An empty string returns 0.
//
// If `maxOne` is true, then "50%" will return 0.5. Otherwise it will return 50.
func parsePercentArg(arg string, maxOne bool) (float64, error) {
	if arg == "" {
		return 0, nil
	}
	if strings.HasSuffix(arg, "%") {
		arg = arg[:len(arg)-1]
		f64, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, err
		}
		if maxOne {
			f64 /= 100.0
		}
		return f64, nil
	}
	f64, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, err
	}
	if !maxOne {
		f64 *= 100.0
	}
	return f64, nil
}

// globalFlag returns the value of flag at the top level of the command.
// For example, with the command:
//
//	palquant --threads 1 edm -s FloydSteinberg
//
// "threads" is a global flag, and "s" is a flag local to the edm subcommand.
func globalFlag(flag string, c *cli.Context) interface{} {
	ancestor := c.Lineage()[len(c.Lineage())-1]
	if len(ancestor.Args().Slice()) == 0 {
		// When the global context calls this func, the last in the lineage
		// has no args for some reason. So return the second-last instead.
		return c.Lineage()[len(c.Lineage())-2].Value(flag)
	}
	return ancestor.Value(flag)
}

// parseArgs takes arguments and splits them using the provided split characters.
func parseArgs(args []string, splitRunes string) []string {
	finalArgs := make([]string, 0)
	for _, arg := range args {
		finalArgs = append(finalArgs, strings.FieldsFunc(arg, func(c rune) bool {
			return strings.ContainsRune(splitRunes, c)
		})...)
	}
	return finalArgs
}

// hexToColor parses #rrggbb or #rgb, with or without the #.
func hexToColor(hex string) (color.NRGBA, error) {
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colorful.Hex(strings.ToLower(hex))
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%s is not a hex color", hex)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{r, g, b, 255}, nil
}

func rgbToColor(s string) (color.NRGBA, error) {
	format := "%d,%d,%d"
	var r, g, b uint8
	n, err := fmt.Sscanf(s, format, &r, &g, &b)
	if err != nil {
		return color.NRGBA{}, err
	}
	if n != 3 {
		return color.NRGBA{}, fmt.Errorf("%s is not an RGB tuple", s)
	}
	return color.NRGBA{r, g, b, 255}, nil
}

// sampleInputPalette derives a palette from the input image with palettor.
func sampleInputPalette(c *cli.Context) ([]color.Color, error) {
	if inputImage == "-" {
		return nil, errors.New("--palette sample can't be used when reading the input from stdin")
	}
	img, err := getInputImage(inputImage, c)
	if err != nil {
		return nil, fmt.Errorf("error loading image for palette extraction '%s': %w", inputImage, err)
	}

	// Resize: keep palettor.Extract fast. See the palettor CLI source:
	// https://github.com/mccutchen/palettor/blob/3eaed180/cmd/palettor/palettor.go#L57
	thumbnail := imaging.Resize(img, 200, 200, imaging.NearestNeighbor)

	palette, err := palettor.Extract(cfg.SampleColors, 500, thumbnail)
	if err != nil {
		return nil, fmt.Errorf("error extracting image palette: %w", err)
	}

	sampled := palette.Colors()
	colors := make([]color.Color, 0, len(sampled))
	for _, pc := range sampled {
		colors = append(colors, color.NRGBAModel.Convert(pc))
	}
	quant.Logger().Info("sampled palette", "colors", len(colors))
	return colors, nil
}

// parseColors takes args and turns them into a color slice. All returned
// colors are guaranteed to only be color.NRGBA.
func parseColors(flag string, c *cli.Context) ([]color.Color, error) {
	args := parseArgs([]string{globalFlag(flag, c).(string)}, " ")

	if len(args) == 1 && args[0] == "sample" {
		return sampleInputPalette(c)
	}

	colors := make([]color.Color, len(args))

	for i, arg := range args {
		// Try to parse as RGB numbers, then grayscale, then hex, then SVG colors, then fail

		if strings.Count(arg, ",") == 2 {
			rgbColor, err := rgbToColor(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %s is not a valid RGB tuple. Example: 25,200,150", flag, arg)
			}
			colors[i] = rgbColor
			continue
		}

		// Numbers outside 0-255 may still be hex codes, like 123456
		n, err := strconv.Atoi(arg)
		if err == nil && n >= 0 && n <= 255 {
			colors[i] = color.NRGBA{uint8(n), uint8(n), uint8(n), 255}
			continue
		}

		hexColor, err := hexToColor(arg)
		if err == nil {
			colors[i] = hexColor
			continue
		}

		htmlColor, ok := colornames.Map[strings.ToLower(arg)]
		if ok {
			colors[i] = color.NRGBAModel.Convert(htmlColor).(color.NRGBA)
			continue
		}

		return nil, fmt.Errorf("%s: %s not recognized as an RGB tuple, hex code, number 0-255, or SVG color name", flag, arg)
	}

	return colors, nil
}

// getInputImage takes an input image arg and returns an image that has
// modifications applied.
func getInputImage(arg string, c *cli.Context) (image.Image, error) {
	var img image.Image
	var err error

	if arg == "-" {
		img, err = imaging.Decode(os.Stdin, autoOrientation)
	} else {
		img, err = imaging.Open(arg, autoOrientation)
	}
	if err != nil {
		return nil, err
	}

	if width != 0 || height != 0 {
		// Box sampling is quick and fast, and better then others at downscaling
		// https://pkg.go.dev/github.com/disintegration/imaging#ResampleFilter
		img = imaging.Resize(img, width, height, imaging.Box)
	}

	if grayscale {
		img = imaging.Grayscale(img)
	}
	if saturation != 0 {
		img = imaging.AdjustSaturation(img, saturation)
	}
	if contrast != 0 {
		img = imaging.AdjustContrast(img, contrast)
	}
	if brightness != 0 {
		img = imaging.AdjustBrightness(img, brightness)
	}

	return img, nil
}

// explicitEpsilon groups only identical colors. Colors parsed from the
// command line are 8-bit, so distinct ones are at least 1/255 apart.
const explicitEpsilon = 0.5 / 255

// getReference returns the buffer the palette is extracted from, with the
// occurrence threshold and grouping epsilon to use with it.
//
// An explicit palette becomes a one-row buffer holding each color once. It is
// neither pruned nor merged, only exact repeats collapse.
func getReference() (quant.Buffer, int, float64, error) {
	if explicitPalette != nil {
		buf := quant.NewBuffer(len(explicitPalette), 1)
		for i, pc := range explicitPalette {
			buf.Pix[i] = quant.ColorFromNRGBA(pc.(color.NRGBA))
		}
		return buf, 1, explicitEpsilon, nil
	}

	// The reference is used as is. Resizing or adjusting it would invent
	// colors that then survive as palette entries.
	img, err := imaging.Open(referencePath, autoOrientation)
	if err != nil {
		return quant.Buffer{}, 0, 0, fmt.Errorf("error loading reference '%s': %w", referencePath, err)
	}
	return bufferFromImage(img), minCount, epsilon, nil
}

// bufferFromImage converts img to a row-major float buffer.
func bufferFromImage(img image.Image) quant.Buffer {
	// Clone gives an *image.NRGBA at the origin with a stride of 4*width
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	buf := quant.NewBuffer(b.Dx(), b.Dy())
	for i := range buf.Pix {
		p := nrgba.Pix[i*4 : i*4+4 : i*4+4]
		buf.Pix[i] = quant.ColorFromNRGBA(color.NRGBA{p[0], p[1], p[2], p[3]})
	}
	return buf
}

// imageFromBuffer is the inverse of bufferFromImage.
func imageFromBuffer(buf quant.Buffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for i, pc := range buf.Pix {
		n := pc.NRGBA()
		copy(img.Pix[i*4:i*4+4], []uint8{n.R, n.G, n.B, n.A})
	}
	return img
}

// postProcImage upscales the image if requested.
func postProcImage(img image.Image) image.Image {
	if upscale == 1 {
		return img
	}
	return imaging.Resize(
		img,
		img.Bounds().Dx()*upscale,
		0,
		imaging.NearestNeighbor,
	)
}

// writeImage encodes img in the output format and writes it to path, or to
// stdout for "-". Every pixel of img must be a palette color.
func writeImage(path string, img image.Image, palette quant.Palette) error {
	var file io.WriteCloser
	var err error

	if path == "-" {
		file = os.Stdout
		path = "stdout"
	} else {
		file, err = os.OpenFile(path, outFileFlags, 0644)
		if err != nil {
			return fmt.Errorf("'%s': %w", path, err)
		}
	}

	if outFormat == "png" {
		err = (&png.Encoder{CompressionLevel: compLevel}).Encode(file, img)
		if err != nil {
			defer file.Close() // Keep (possibly stdout) open to write error messages then close
			return fmt.Errorf("error writing PNG to '%s': %w", path, err)
		}
		return file.Close()
	}

	// Pixels already hold palette colors, so the GIF encoder only needs the
	// palette itself and a plain copy into it.
	err = gif.Encode(
		file, img,
		&gif.Options{
			NumColors: len(palette),
			Quantizer: &paletteQuantizer{palette.Colors()},
			Drawer:    draw.Src,
		},
	)
	if err != nil {
		defer file.Close()
		return fmt.Errorf("error writing GIF to '%s': %w", path, err)
	}
	return file.Close()
}

// newCollector returns a Prometheus collector and a func that writes its
// metrics to --metrics-file. Without that flag the collector is nil and the
// func does nothing.
func newCollector() (quant.Collector, func() error, error) {
	if metricsFile == "" {
		return nil, func() error { return nil }, nil
	}
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(reg, "")
	if err != nil {
		return nil, nil, err
	}
	return collector, func() error {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return fmt.Errorf("metrics file: %w", err)
		}
		return nil
	}, nil
}

// progressSteps is the resolution of the progress bar.
const progressSteps = 1000

// watchProgress draws a progress bar on stderr by polling the job, until the
// returned func is called.
func watchProgress(job *quant.Job) func() {
	if quiet {
		return func() {}
	}

	bar := progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(job.Status().Label),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
	update := func() {
		st := job.Status()
		bar.Describe(st.Label)
		_ = bar.Set(int(st.Progress * progressSteps))
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		update()
		if job.Phase() == quant.PhaseCompleted {
			_ = bar.Finish()
		} else {
			_ = bar.Clear()
		}
	}
}

// cancelOnInterrupt calls cancel on SIGINT until the returned func is called.
func cancelOnInterrupt(cancel func()) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			quant.Logger().Warn("interrupt received, cancelling")
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sig)
		close(done)
	}
}
