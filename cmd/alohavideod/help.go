package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig         string
	flagWidth          int
	flagHeight         int
	flagFPS            int
	flagFrames         int
	flagBitrate        int
	flagMode           string
	flagScaling        string
	flagHorizontalFlip bool
	flagVerticalFlip   bool
	flagHelp           bool
	flagVersion        bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "Configuration file")
	flag.IntVarP(&flagWidth, "width", "x", 640, "Video width")
	flag.IntVarP(&flagHeight, "height", "y", 480, "Video height")
	flag.IntVarP(&flagFPS, "fps", "f", 30, "Frames per second")
	flag.IntVarP(&flagFrames, "frames", "n", 30, "Frames to run through the pipeline")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 1000, "Video bitrate, in kbps")
	flag.StringVarP(&flagMode, "mode", "m", "surface", "Capture mode: surface or buffer")
	flag.StringVarP(&flagScaling, "scaling", "s", "", "Renderer scaling: fill, aspect-fill or aspect-fit")
	flag.BoolVarP(&flagHorizontalFlip, "hflip", "", false, "Mirror horizontally")
	flag.BoolVarP(&flagVerticalFlip, "vflip", "", false, "Mirror vertically")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `GPU video pipeline for connected devices

Usage: alohavideod [OPTION]...

Runs frames from a test-pattern camera through the hardware encoder and
decoder into an off-screen renderer, then prints pipeline statistics.

Configuration:
  -c, --config=FILE      YAML configuration (default: built-in defaults)

Video source:
  -x, --width=NUM        Set video width (default: 640)
  -y, --height=NUM       Set video height (default: 480)
  -f, --fps=NUM          Set frame rate (default: 30)
  -n, --frames=NUM       Frames to produce (default: 30)
  -b, --bitrate=NUM      Set maximum video bitrate, in kbps (default: 1000)
  -m, --mode=MODE        Capture through a "surface" or a "buffer" queue
                         (default: surface)

Renderer:
  -s, --scaling=MODE     fill, aspect-fill or aspect-fit (default: aspect-fit)
      --hflip            Mirror video horizontally
      --vflip            Mirror video vertically

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//         _         _                          _      _
	//   __ _ | |  ___  | |__    __ _ __   _(_)  __| |  ___   ___
	//  / _` || | / _ \ | '_ \  / _` |\ \ / / | / _` | / _ \ / _ \
	// | (_| || || (_) || | | || (_| | \ V /| || (_| ||  __/| (_) |
	//  \__,_||_| \___/ |_| |_| \__,_|  \_/ |_| \__,_| \___| \___/

	// Line 1
	r.Printf("        ")
	y.Printf(" _ ")
	b.Printf("       ")
	y.Printf(" _     ")
	r.Printf("       ")
	b.Println("       _      _            ")

	// Line 2
	r.Printf("   __ _ ")
	y.Printf("| |")
	b.Printf("  ___  ")
	y.Printf("| |__  ")
	r.Printf("  __ _ ")
	b.Println("__   _(_)  __| |  ___   ___ ")

	// Line 3
	r.Printf("  / _` |")
	y.Printf("| |")
	b.Printf(" / _ \\ ")
	y.Printf("| '_ \\ ")
	r.Printf(" / _` |")
	b.Println("\\ \\ / / | / _` | / _ \\ / _ \\")

	// Line 4
	r.Printf(" | (_| |")
	y.Printf("| |")
	b.Printf("| (_) |")
	y.Printf("| | | |")
	r.Printf("| (_| |")
	b.Println(" \\ V /| || (_| ||  __/| (_) |")

	// Line 5
	r.Printf("  \\__,_|")
	y.Printf("|_|")
	b.Printf(" \\___/ ")
	y.Printf("|_| |_|")
	r.Printf(" \\__,_|")
	b.Println("  \\_/ |_| \\__,_| \\___| \\___/")

	fmt.Println(helpString)
}
