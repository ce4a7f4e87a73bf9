package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/makeworld-the-better-one/palquant/quant"
)

// Set by the linker through -ldflags "-X main.version=..."
var (
	version = "v0.1.0"
	commit  = "unknown"
	builtBy = "unknown"
)

// exitCancelled is the exit status after an interrupt, as shells report
// for SIGINT.
const exitCancelled = 130

func main() {

	app := &cli.App{
		Name:  "palquant",
		Usage: "map images onto a fixed color palette.",
		Description: "palquant replaces every pixel of an image with the closest color of a palette.\n\n" +
			"The palette is taken from a reference image (--reference) or given directly (--palette).",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML file with default settings",
				EnvVars: []string{"PALQUANT_CONFIG"},
			},
			&cli.StringFlag{
				Name:     "in",
				Aliases:  []string{"i"},
				Usage:    "source image, or - for stdin",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "output file, or - for stdout",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "reference",
				Aliases: []string{"r"},
				Usage:   "image whose distinct colors form the palette",
			},
			&cli.StringFlag{
				Name:    "palette",
				Aliases: []string{"p"},
				Usage:   "palette colors, or 'sample' to derive them from the input image",
			},
			&cli.UintFlag{
				Name:  "sample-colors",
				Usage: "number of colors for --palette sample",
			},
			&cli.StringFlag{
				Name:    "space",
				Aliases: []string{"s"},
				Usage:   "color space for matching: rgb or lab",
			},
			&cli.UintFlag{
				Name:    "min-count",
				Aliases: []string{"m"},
				Usage:   "drop reference colors seen fewer times than this",
			},
			&cli.Float64Flag{
				Name:  "epsilon",
				Usage: "RGB distance under which reference colors are merged",
			},
			&cli.UintFlag{
				Name:    "threads",
				Aliases: []string{"j"},
			},
			&cli.UintFlag{
				Name:  "chunk",
				Usage: "pixels per work unit",
			},
			&cli.StringFlag{
				Name: "saturation",
			},
			&cli.StringFlag{
				Name: "brightness",
			},
			&cli.StringFlag{
				Name: "contrast",
			},
			&cli.BoolFlag{
				Name:    "grayscale",
				Aliases: []string{"g"},
			},
			&cli.BoolFlag{
				Name: "no-exif-rotation",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
			},
			&cli.BoolFlag{
				Name: "no-overwrite",
			},
			&cli.StringFlag{
				Name:    "compression",
				Aliases: []string{"c"},
			},
			&cli.UintFlag{
				Name:    "width",
				Aliases: []string{"x"},
			},
			&cli.UintFlag{
				Name:    "height",
				Aliases: []string{"y"},
			},
			&cli.UintFlag{
				Name:    "upscale",
				Aliases: []string{"u"},
				Value:   1,
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "write Prometheus metrics in text format to this file",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "hide the progress bar",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log palette and job details to stderr",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"v"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:                   "nearest",
				Usage:                  "replace each pixel with the nearest palette color",
				UseShortOptionHandling: true,
				Action:                 nearest,
			},
			{
				Name:  "edm",
				Usage: "Error Diffusion Matrix dithering with the palette",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "serpentine",
						Aliases: []string{"s"},
					},
					&cli.StringFlag{
						Name: "strength",
					},
				},
				UseShortOptionHandling: true,
				Action:                 edm,
			},
			{
				Name:  "bayer",
				Usage: "Bayer matrix ordered dithering with the palette",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name: "strength",
					},
				},
				UseShortOptionHandling: true,
				Action:                 bayer,
			},
			{
				Name:                   "palette",
				Usage:                  "print the extracted palette, one color per line",
				UseShortOptionHandling: true,
				Action:                 printPalette,
			},
		},
		Before: preProcess,
		Action: func(c *cli.Context) error {
			return errors.New("no command specified")
		},
	}

	// Handle version flag
	if len(os.Args) == 2 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println("palquant", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Built by:", builtBy)
		return
	}

	// Required flags are still required for help, so subcommand help is
	// printed here before the app parses anything.
	// https://github.com/urfave/cli/issues/1247
	if name, ok := subcommandHelpRequest(os.Args); ok {
		for _, c := range app.Commands {
			if c.Name == name {
				cli.HelpPrinter(os.Stdout, cli.CommandHelpTemplate, c)
				return
			}
		}
		fmt.Println("no command with that name")
		os.Exit(1)
	}

	err := app.Run(os.Args)
	if err != nil {
		if len(os.Args) == 1 {
			// Just ran the command with no flags
			return
		}
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, quant.ErrCancelled) {
			os.Exit(exitCancelled)
		}
		os.Exit(1)
	}
}

// subcommandHelpRequest returns the command name when args ask for its help,
// as in "palquant help edm" or "palquant edm --help".
func subcommandHelpRequest(args []string) (string, bool) {
	if len(args) != 3 {
		return "", false
	}
	if args[1] == "h" || args[1] == "help" {
		return args[2], true
	}
	if args[2] == "-h" || args[2] == "--help" {
		return args[1], true
	}
	return "", false
}
