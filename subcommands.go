package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither/v2"
	"github.com/urfave/cli/v2"

	"github.com/makeworld-the-better-one/palquant/internal/config"
	"github.com/makeworld-the-better-one/palquant/quant"
)

const (
	unsupportedFormat string = "'%s' is an unsupported format, only 'png' or 'gif' are accepted"
)

var (
	cfg config.Config

	// explicitPalette holds colors from --palette. It's nil when the palette
	// comes from --reference. Guaranteed to only hold color.NRGBA.
	explicitPalette []color.Color

	referencePath string

	colorSpace quant.ColorSpace
	minCount   int
	epsilon    float64
	threads    int
	chunkSize  int

	grayscale bool

	// Range -100,100

	saturation float64
	brightness float64
	contrast   float64

	autoOrientation imaging.DecodeOption

	inputImage string
	outFormat  string // "png" or "gif"

	compLevel png.CompressionLevel

	outFileFlags int // For os.OpenFile

	width  int
	height int
	// upscale will always be 1 or above
	upscale int

	metricsFile string
	quiet       bool
)

// preProcess is automatically called by the app before anything else.
// It's run in the global context.
func preProcess(c *cli.Context) error {
	var err error

	cfg, err = config.Load(c.String("config"))
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	quant.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	threads = cfg.Threads
	if c.IsSet("threads") {
		threads = int(c.Uint("threads"))
	}
	runtime.GOMAXPROCS(threads)

	spaceName := cfg.ColorSpace
	if c.IsSet("space") {
		spaceName = c.String("space")
	}
	colorSpace, err = quant.ParseColorSpace(spaceName)
	if err != nil {
		return fmt.Errorf("space: %w", err)
	}

	minCount = cfg.MinCount
	if c.IsSet("min-count") {
		minCount = int(c.Uint("min-count"))
	}
	epsilon = cfg.Epsilon
	if c.IsSet("epsilon") {
		epsilon = c.Float64("epsilon")
		if epsilon <= 0 {
			return errors.New("epsilon must be positive")
		}
	}
	chunkSize = cfg.ChunkSize
	if c.IsSet("chunk") {
		chunkSize = int(c.Uint("chunk"))
		if chunkSize == 0 {
			return errors.New("chunk must be at least 1")
		}
	}
	if c.IsSet("sample-colors") {
		cfg.SampleColors = int(c.Uint("sample-colors"))
		if cfg.SampleColors == 0 {
			return errors.New("sample-colors must be at least 1")
		}
	}

	saturation, err = parsePercentArg(c.String("saturation"), false)
	if err != nil {
		return fmt.Errorf("saturation: %w", err)
	}
	grayscale = c.Bool("grayscale")
	if saturation <= -100 {
		grayscale = true
		saturation = 0
	}
	brightness, err = parsePercentArg(c.String("brightness"), false)
	if err != nil {
		return fmt.Errorf("brightness: %w", err)
	}
	contrast, err = parsePercentArg(c.String("contrast"), false)
	if err != nil {
		return fmt.Errorf("contrast: %w", err)
	}

	autoOrientation = imaging.AutoOrientation(!c.Bool("no-exif-rotation"))

	inputImage = c.String("in")

	formatVal := cfg.Format
	if c.IsSet("format") {
		formatVal = c.String("format")
	}
	if formatVal != "png" && formatVal != "gif" {
		return fmt.Errorf(unsupportedFormat, formatVal)
	}

	// Figure out output format

	outVal := c.String("out")

	if outVal == "-" || c.IsSet("format") {
		// Outputting to stdout, or the format was forced
		outFormat = formatVal
	} else {
		// Try to figure out format from output filename
		ext := strings.TrimPrefix(filepath.Ext(outVal), ".")
		if ext == "png" || ext == "gif" {
			// Acceptable extension
			outFormat = ext
		} else if ext == "" {
			// No extension, use configured format
			outFormat = formatVal
		} else {
			// Unsupported extension and no format flag override
			return fmt.Errorf(unsupportedFormat, ext)
		}
	}

	// Set PNG compression type

	compression := cfg.Compression
	if c.IsSet("compression") {
		compression = c.String("compression")
	}
	switch compression {
	case "default":
		compLevel = png.DefaultCompression
	case "no":
		compLevel = png.NoCompression
	case "speed":
		compLevel = png.BestSpeed
	case "size":
		compLevel = png.BestCompression
	default:
		return fmt.Errorf("invalid compression type '%s'", compression)
	}

	if c.Bool("no-overwrite") {
		outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	} else {
		outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	// Set here for convenience
	width = int(c.Uint("width"))
	height = int(c.Uint("height"))
	upscale = int(c.Uint("upscale"))
	if upscale == 0 {
		// Invalid
		upscale = 1
	}

	// Palette source: exactly one of --reference and --palette

	referencePath = c.String("reference")
	if referencePath == "" && !c.IsSet("palette") {
		return errors.New("one of --reference or --palette is required")
	}
	if referencePath != "" && c.IsSet("palette") {
		return errors.New("--reference and --palette can't be used together")
	}
	if c.IsSet("palette") {
		// Sampling loads the input image, so the options above must be set
		explicitPalette, err = parseColors("palette", c)
		if err != nil {
			return err
		}
		if len(explicitPalette) == 0 {
			return errors.New("the palette must have at least one color")
		}
	}

	metricsFile = c.String("metrics-file")
	quiet = c.Bool("quiet")

	return nil
}

// nearest runs a quantization job and writes its output.
func nearest(c *cli.Context) error {
	src, err := getInputImage(inputImage, c)
	if err != nil {
		return fmt.Errorf("error loading '%s': %w", inputImage, err)
	}
	ref, minOcc, eps, err := getReference()
	if err != nil {
		return err
	}

	collector, flushMetrics, err := newCollector()
	if err != nil {
		return err
	}

	outPath := globalFlag("out", c).(string)

	var job *quant.Job
	job = quant.NewJob(bufferFromImage(src), ref,
		quant.WithColorSpace(colorSpace),
		quant.WithMinOccurrences(minOcc),
		quant.WithEpsilon(eps),
		quant.WithWorkers(threads),
		quant.WithChunkSize(chunkSize),
		quant.WithCollector(collector),
		quant.WithFinalizer(func(out quant.Buffer) error {
			palette := job.Palette()
			if outFormat == "gif" && len(palette) > 256 {
				return fmt.Errorf("the GIF format only supports 256 colors or less, the palette has %d", len(palette))
			}
			return writeImage(outPath, postProcImage(imageFromBuffer(out)), palette)
		}),
	)

	stopProgress := watchProgress(job)
	stopSignals := cancelOnInterrupt(job.Cancel)
	_, err = job.Run(context.Background())
	stopSignals()
	stopProgress()

	if ferr := flushMetrics(); ferr != nil && err == nil {
		return ferr
	}
	if err == nil {
		quant.Logger().Info("job completed", "colors", len(job.Palette()), "pixels", src.Bounds().Dx()*src.Bounds().Dy())
	}
	return err
}

// extractPalette runs palette extraction on its own, for the commands that
// don't map pixels with a job.
func extractPalette(c *cli.Context) (quant.Palette, quant.ExtractStats, error) {
	ref, minOcc, eps, err := getReference()
	if err != nil {
		return nil, quant.ExtractStats{}, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	palette, stats, err := quant.Extract(ctx, ref, quant.ExtractOptions{
		Epsilon:        eps,
		MinOccurrences: minOcc,
	})
	if err != nil {
		return nil, stats, err
	}
	if len(palette) == 0 {
		return nil, stats, quant.ErrEmptyPalette
	}
	return palette, stats, nil
}

// newDitherer extracts the palette and returns a ditherer for it, along
// with the palette it dithers to.
func newDitherer(c *cli.Context) (*dither.Ditherer, quant.Palette, error) {
	palette, _, err := extractPalette(c)
	if err != nil {
		return nil, nil, err
	}
	if outFormat == "gif" && len(palette) > 256 {
		return nil, nil, errors.New("the GIF format only supports 256 colors or less in the palette")
	}

	// The dither library doesn't accept transparent palette colors
	colors := palette.Colors()
	for i := range colors {
		nc := colors[i].(color.NRGBA)
		nc.A = 255
		colors[i] = nc
	}
	d := dither.NewDitherer(colors)
	if d == nil {
		return nil, nil, quant.ErrEmptyPalette
	}
	d.SingleThreaded = threads == 1

	opaque := make(quant.Palette, len(colors))
	for i, pc := range colors {
		opaque[i] = quant.ColorFromColor(pc)
	}
	return d, opaque, nil
}

func parseStrength(c *cli.Context) (float32, error) {
	tmp, err := parsePercentArg(c.String("strength"), true)
	if err != nil {
		return 0, fmt.Errorf("strength: %w", err)
	}
	if tmp == 0 {
		// Ignore
		tmp = 1
	}
	return float32(tmp), nil
}

var edmName = map[string]dither.ErrorDiffusionMatrix{
	"simple2d":            dither.Simple2D,
	"floydsteinberg":      dither.FloydSteinberg,
	"falsefloydsteinberg": dither.FalseFloydSteinberg,
	"jarvisjudiceninke":   dither.JarvisJudiceNinke,
	"atkinson":            dither.Atkinson,
	"stucki":              dither.Stucki,
	"burkes":              dither.Burkes,
	"sierra":              dither.Sierra,
	"sierra3":             dither.Sierra3,
	"tworowsierra":        dither.TwoRowSierra,
	"sierralite":          dither.SierraLite,
	"sierra2_4a":          dither.Sierra2_4A,
	"stevenpigeon":        dither.StevenPigeon,
}

func edm(c *cli.Context) error {
	args := c.Args().Slice()

	if len(args) != 1 {
		return errors.New("edm only accepts one argument")
	}

	matrix, ok := edmName[strings.ReplaceAll(strings.ToLower(args[0]), "-", "_")]
	if !ok {
		return fmt.Errorf("'%s' is not a known error diffusion matrix", args[0])
	}

	strength, err := parseStrength(c)
	if err != nil {
		return err
	}

	d, palette, err := newDitherer(c)
	if err != nil {
		return err
	}
	d.Matrix = dither.ErrorDiffusionStrength(matrix, strength)
	if c.Bool("serpentine") {
		d.Serpentine = true
	}

	return ditherImage(d, palette, c)
}

func bayer(c *cli.Context) error {
	args := parseArgs(c.Args().Slice(), " ,x")

	if len(args) != 2 {
		return errors.New("bayer needs 2 arguments exactly. Example: 4x4")
	}

	uintArgs := make([]uint, 2)
	for i, arg := range args {
		u64, err := strconv.ParseUint(arg, 10, 0)
		if err != nil {
			return err
		}
		uintArgs[i] = uint(u64)
	}

	// Validate args to prevent dither.Bayer from panicking

	x, y := uintArgs[0], uintArgs[1]
	if x == 0 || y == 0 {
		return errors.New("neither dimension can be 0")
	}
	if x == 1 && y == 1 {
		return errors.New("a 1x1 matrix will not dither the image")
	}
	if ((x&(x-1)) != 0 || (y&(y-1)) != 0) && // Power of two?
		!((x == 3 && y == 3) || (x == 5 && y == 3) || (x == 3 && y == 5)) { // Exceptions
		// Not a power of two, and not an exception
		return errors.New("both dimensions must be powers of two")
	}

	strength, err := parseStrength(c)
	if err != nil {
		return err
	}

	d, palette, err := newDitherer(c)
	if err != nil {
		return err
	}
	d.Mapper = dither.Bayer(x, y, strength)

	return ditherImage(d, palette, c)
}

// ditherImage dithers the input image with d and writes it.
func ditherImage(d *dither.Ditherer, palette quant.Palette, c *cli.Context) error {
	img, err := getInputImage(inputImage, c)
	if err != nil {
		return fmt.Errorf("error loading '%s': %w", inputImage, err)
	}

	var out image.Image
	if outFormat == "gif" {
		out = d.DitherPaletted(img)
	} else {
		out = d.Dither(img)
	}

	return writeImage(globalFlag("out", c).(string), postProcImage(out), palette)
}

// printPalette writes the extracted palette as hex codes with the number of
// reference pixels behind each color.
func printPalette(c *cli.Context) error {
	palette, stats, err := extractPalette(c)
	if err != nil {
		return err
	}
	for i, pc := range palette {
		fmt.Printf("%s\t%d\n", pc.Hex(), stats.Counts[i])
	}
	return nil
}
