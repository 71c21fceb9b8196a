/*
Copyright 2024 The tinykernel Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command tkassets converts an ordinary RGBA PNG icon or cursor image
// into the pair-encoded 16-color raw format pkg/display.Buffer uses
// on-device, per SPEC_FULL.md §4.2's asset pipeline: authors draw
// icons as normal PNGs, and this tool does the palette-aware scaling
// and nibble-packing ahead of time so nothing on-device ever decodes
// PNG. golang.org/x/image/draw supplies the scaling (nearest-neighbor,
// to keep hard pixel-art edges rather than blur small glyphs), and the
// fixed 16-color palette is this package's own, since spec.md's
// display never specifies one.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"log"
	"os"

	"golang.org/x/image/draw"

	"tinykernel.org/pkg/display"
)

// palette is the fixed 16-color EGA-style palette this OS's display
// engine assumes; index order matches pkg/display's decoration color
// constants.
var palette = color.Palette{
	color.RGBA{0, 0, 0, 255},
	color.RGBA{0, 0, 170, 255},
	color.RGBA{0, 170, 0, 255},
	color.RGBA{0, 170, 170, 255},
	color.RGBA{170, 0, 0, 255},
	color.RGBA{170, 0, 170, 255},
	color.RGBA{170, 85, 0, 255},
	color.RGBA{170, 170, 170, 255},
	color.RGBA{85, 85, 85, 255},
	color.RGBA{85, 85, 255, 255},
	color.RGBA{85, 255, 85, 255},
	color.RGBA{85, 255, 255, 255},
	color.RGBA{255, 85, 85, 255},
	color.RGBA{255, 85, 255, 255},
	color.RGBA{255, 255, 85, 255},
	color.RGBA{255, 255, 255, 255},
}

func usage() {
	fmt.Fprint(os.Stderr, "usage: tkassets -w <width> -h <height> -out <out.raw> <in.png>\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	w := flag.Int("w", 16, "target width in pixels")
	h := flag.Int("h", 16, "target height in pixels")
	out := flag.String("out", "", "output raw asset path")
	flag.Usage = usage
	flag.Parse()

	if *out == "" || flag.NArg() != 1 {
		usage()
	}

	src, err := decodeImage(flag.Arg(0))
	if err != nil {
		log.Fatalf("tkassets: %v", err)
	}

	scaled := image.NewRGBA(image.Rect(0, 0, *w, *h))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Over, nil)

	buf := display.NewBuffer(*w, *h)
	for y := 0; y < *h; y++ {
		for x := 0; x < *w; x++ {
			idx := palette.Index(scaled.At(x, y))
			buf.SetPixel(x, y, uint8(idx))
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("tkassets: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Pix); err != nil {
		log.Fatalf("tkassets: writing %s: %v", *out, err)
	}
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
