package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
)

func run() error {
	resolution := flag.Int("resolution", heightmap.DefaultResolution, "heightmap resolution")
	bits := flag.Int("bits", 16, "bits per sample (8 or 16)")
	sigma := flag.Float64("sigma", 0, "standard deviation of Gaussian smoothing, 0 to disable")
	info := flag.Bool("info", false, "print raster information instead of converting")
	verbose := flag.Bool("v", false, "verbose")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()
	}

	converter := heightmap.NewConverter(
		heightmap.WithLogger(logger),
		heightmap.WithSmoothing(*sigma),
	)

	switch {
	case *info && flag.NArg() == 1:
		rasterInfo, err := converter.ReadInfo(ctx, flag.Arg(0))
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rasterInfo)
	case !*info && (flag.NArg() == 1 || flag.NArg() == 2):
		src := flag.Arg(0)
		dst := flag.Arg(1)
		if dst == "" {
			dst = strings.TrimSuffix(src, ".tif") + "_heightmap.png"
		}
		dst, err := converter.Convert(ctx, src, dst, *resolution, heightmap.BitDepth(*bits))
		if err != nil {
			return err
		}
		fmt.Println(dst)
		return nil
	default:
		return errors.New("syntax: heightmap [-resolution n] [-bits 8|16] [-sigma s] dem_file [output_file]\n" +
			"        heightmap -info dem_file")
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
