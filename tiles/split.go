package tiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/marusama/semaphore/v2"
)

// SplitOptions configure one packaging run.
type SplitOptions struct {
	Input    string  // source .mbtiles
	OutDir   string  // output directory, created if missing
	Prefix   string  // output filename prefix; defaults to the input stem
	LimitMB  float64 // max output file size; defaults to 99 MB
	Overhead float64 // grouping estimate factor for sqlite overhead; defaults to 1.25
	Workers  int     // concurrent group writes; defaults to 2
}

// SplitResult describes one written output file.
type SplitResult struct {
	Path    string
	Bytes   int64
	MinZoom int
	MaxZoom int
}

// Split packages a source MBTiles file into multiple files grouped by
// consecutive zoom levels, each estimated to stay under the size limit.
// Group writes run concurrently, bounded by Workers. The size per zoom is
// an estimate from summed blob lengths, so an output can still end up over
// the limit; that is logged but not an error.
func Split(ctx context.Context, opts SplitOptions) ([]SplitResult, error) {
	if opts.LimitMB <= 0 {
		opts.LimitMB = 99
	}
	if opts.Overhead <= 0 {
		opts.Overhead = 1.25
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Prefix == "" {
		stem := filepath.Base(opts.Input)
		opts.Prefix = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	opts.Prefix = sanitizeName(opts.Prefix)
	limitBytes := int64(opts.LimitMB * 1024 * 1024)

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("create outdir: %w", err)
	}

	// inspect the source once to plan the groups
	src, err := sql.Open("sqlite", "file:"+opts.Input+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	schema, err := detectSchema(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	zooms, err := zoomLevels(src, schema)
	if err != nil {
		src.Close()
		return nil, err
	}
	if len(zooms) == 0 {
		src.Close()
		return nil, errors.New("no zoom levels found in mbtiles")
	}
	zoomBytes, err := estimateZoomSizes(src, schema)
	src.Close()
	if err != nil {
		return nil, err
	}

	for _, z := range zooms {
		if est := int64(float64(zoomBytes[z]) * opts.Overhead); est > limitBytes {
			log.Printf("WARN: zoom %d estimated payload %.1f MB exceeds the %.1f MB limit by itself",
				z, float64(est)/1024/1024, opts.LimitMB)
		}
	}

	groups := groupZoomsByLimit(zooms, zoomBytes, limitBytes, opts.Overhead)

	// write the groups concurrently, bounded by a semaphore
	limiter := semaphore.New(opts.Workers)
	results := make([]SplitResult, len(groups))
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		if err := limiter.Acquire(ctx, 1); err != nil {
			errs[i] = err
			break
		}
		wg.Add(1)
		go func(i int, group []int) {
			defer wg.Done()
			defer limiter.Release(1)

			zmin, zmax := group[0], group[len(group)-1]
			outPath := filepath.Join(opts.OutDir, fmt.Sprintf("%s_z%d-%d.mbtiles", opts.Prefix, zmin, zmax))
			size, err := writeGroup(opts.Input, outPath, schema, group)
			if err != nil {
				errs[i] = fmt.Errorf("write %s: %w", outPath, err)
				return
			}
			if size > limitBytes {
				log.Printf("WARN: %s is %.1f MB, still over the %.1f MB limit",
					outPath, float64(size)/1024/1024, opts.LimitMB)
			}
			results[i] = SplitResult{Path: outPath, Bytes: size, MinZoom: zmin, MaxZoom: zmax}
		}(i, group)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// zoomLevels lists the distinct zoom levels of the source in order.
func zoomLevels(db *sql.DB, schema string) ([]int, error) {
	table := "tiles"
	if schema == schemaMapImages {
		table = "map"
	}
	rows, err := db.Query(`SELECT DISTINCT zoom_level FROM ` + table + ` ORDER BY zoom_level`)
	if err != nil {
		return nil, fmt.Errorf("zoom levels: %w", err)
	}
	defer rows.Close()
	var zooms []int
	for rows.Next() {
		var z int
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		zooms = append(zooms, z)
	}
	return zooms, rows.Err()
}

// estimateZoomSizes sums the blob lengths per zoom level. This estimates
// the payload, not the final file size.
func estimateZoomSizes(db *sql.DB, schema string) (map[int]int64, error) {
	q := `SELECT zoom_level, COALESCE(SUM(LENGTH(tile_data)), 0) FROM tiles GROUP BY zoom_level`
	if schema == schemaMapImages {
		q = `SELECT m.zoom_level, COALESCE(SUM(LENGTH(i.tile_data)), 0)
		     FROM map m JOIN images i ON m.tile_id = i.tile_id GROUP BY m.zoom_level`
	}
	rows, err := db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("size estimate: %w", err)
	}
	defer rows.Close()
	sizes := make(map[int]int64)
	for rows.Next() {
		var z int
		var n int64
		if err := rows.Scan(&z, &n); err != nil {
			return nil, err
		}
		sizes[z] = n
	}
	return sizes, rows.Err()
}

// groupZoomsByLimit packs consecutive zoom levels greedily into groups
// whose estimated size stays under the limit. A single zoom that is too
// big on its own still becomes its own group.
func groupZoomsByLimit(zooms []int, zoomBytes map[int]int64, limitBytes int64, overhead float64) [][]int {
	var groups [][]int
	var current []int
	var currentEst int64

	for _, z := range zooms {
		est := int64(float64(zoomBytes[z]) * overhead)
		if len(current) == 0 {
			current = []int{z}
			currentEst = est
			continue
		}
		if currentEst+est <= limitBytes {
			current = append(current, z)
			currentEst += est
		} else {
			groups = append(groups, current)
			current = []int{z}
			currentEst = est
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// writeGroup copies the given zoom levels from the source into a fresh
// MBTiles file, rewrites the zoom metadata and compacts the result.
func writeGroup(srcPath, outPath, schema string, zooms []int) (int64, error) {
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	dst, err := sql.Open("sqlite", outPath)
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	// pragmas and the ATTACH below are per-connection state
	dst.SetMaxOpenConns(1)

	// speed pragmas, safe for one-off generation
	for _, pragma := range []string{
		`PRAGMA journal_mode=OFF`,
		`PRAGMA synchronous=OFF`,
		`PRAGMA temp_store=MEMORY`,
	} {
		if _, err := dst.Exec(pragma); err != nil {
			return 0, err
		}
	}

	if _, err := dst.Exec(`ATTACH DATABASE ? AS src`, "file:"+srcPath+"?mode=ro"); err != nil {
		return 0, fmt.Errorf("attach source: %w", err)
	}

	if err := copyMetadata(dst, zooms); err != nil {
		return 0, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(zooms)), ",")
	args := make([]any, len(zooms))
	for i, z := range zooms {
		args[i] = z
	}

	switch schema {

	case schemaTiles:
		ddl := []string{
			`CREATE TABLE IF NOT EXISTS tiles (
				zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)`,
		}
		for _, q := range ddl {
			if _, err := dst.Exec(q); err != nil {
				return 0, err
			}
		}
		_, err = dst.Exec(`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data)
			SELECT zoom_level, tile_column, tile_row, tile_data
			FROM src.tiles WHERE zoom_level IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("copy tiles: %w", err)
		}

	case schemaMapImages:
		ddl := []string{
			`CREATE TABLE IF NOT EXISTS map (
				zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT)`,
			`CREATE TABLE IF NOT EXISTS images (tile_id TEXT PRIMARY KEY, tile_data BLOB)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row)`,
		}
		for _, q := range ddl {
			if _, err := dst.Exec(q); err != nil {
				return 0, err
			}
		}
		_, err = dst.Exec(`INSERT INTO map (zoom_level, tile_column, tile_row, tile_id)
			SELECT zoom_level, tile_column, tile_row, tile_id
			FROM src.map WHERE zoom_level IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("copy map: %w", err)
		}
		// copy only the images actually referenced by the copied rows
		_, err = dst.Exec(`INSERT OR IGNORE INTO images (tile_id, tile_data)
			SELECT i.tile_id, i.tile_data FROM src.images i
			JOIN (SELECT DISTINCT tile_id FROM map) m ON i.tile_id = m.tile_id`)
		if err != nil {
			return 0, fmt.Errorf("copy images: %w", err)
		}
	}

	if _, err := dst.Exec(`DETACH DATABASE src`); err != nil {
		return 0, err
	}
	if _, err := dst.Exec(`VACUUM`); err != nil {
		return 0, fmt.Errorf("vacuum: %w", err)
	}
	if err := dst.Close(); err != nil {
		return 0, err
	}

	stat, err := os.Stat(outPath)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// copyMetadata clones the source metadata and overwrites the zoom range
// with the group's actual bounds.
func copyMetadata(dst *sql.DB, zooms []int) error {
	if _, err := dst.Exec(`CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT)`); err != nil {
		return err
	}
	if _, err := dst.Exec(`INSERT INTO metadata (name, value) SELECT name, value FROM src.metadata`); err != nil {
		// a source without a metadata table is unusual but tolerable
		log.Printf("WARN: source has no metadata table")
	}
	zmin, zmax := zooms[0], zooms[len(zooms)-1]
	for name, value := range map[string]string{
		"minzoom": fmt.Sprint(zmin),
		"maxzoom": fmt.Sprint(zmax),
	} {
		if _, err := dst.Exec(`DELETE FROM metadata WHERE name=?`, name); err != nil {
			return err
		}
		if _, err := dst.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, name, value); err != nil {
			return err
		}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^\w\-.]+`)

func sanitizeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "output"
	}
	return s
}
