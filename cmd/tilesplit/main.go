// Command tilesplit packages a large MBTiles file into multiple files
// grouped by zoom level, each under a size limit, so they can be copied
// onto FAT-formatted media and served together by the bridge.
//
//	tilesplit [-o outdir] [-limit-mb 99] region.mbtiles
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"meshbridge.dev/bridge/tiles"
)

func main() {
	outdir := flag.String("o", ".", "output directory")
	prefix := flag.String("prefix", "", "output filename prefix (default: input name)")
	limit := flag.Float64("limit-mb", 99, "max output file size in MB")
	overhead := flag.Float64("overhead", 1.25, "sqlite overhead factor for size estimates")
	workers := flag.Int("workers", 2, "concurrent output writers")
	style := flag.String("style", "", "also download a style JSON into the output directory")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <input.mbtiles>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	results, err := tiles.Split(ctx, tiles.SplitOptions{
		Input:    flag.Arg(0),
		OutDir:   *outdir,
		Prefix:   *prefix,
		LimitMB:  *limit,
		Overhead: *overhead,
		Workers:  *workers,
	})
	if err != nil {
		log.Fatalf("split failed: %s", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tZOOM\tSIZE\n")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\tz%d-%d\t%.1f MB\n", r.Path, r.MinZoom, r.MaxZoom, float64(r.Bytes)/1e6)
	}
	tw.Flush()

	if *style != "" {
		fetcher := tiles.NewFetcher(filepath.Join(*outdir, ".cache"))
		body, _, err := fetcher.Fetch(ctx, *style)
		if err != nil {
			log.Fatalf("fetching style: %s", err)
		}
		stylepath := filepath.Join(*outdir, "style.json")
		if err := os.WriteFile(stylepath, body, 0644); err != nil {
			log.Fatalf("writing style: %s", err)
		}
		fmt.Printf("style saved to %s\n", stylepath)
	}
}
