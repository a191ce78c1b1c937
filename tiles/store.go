// Package tiles serves map tiles from MBTiles files and packages them.
//
// The appliance keeps its offline basemap as a directory of .mbtiles files
// split by zoom range (see Split and cmd/tilesplit), so no single file
// breaks hosting size limits. The Store opens all of them and routes each
// z/x/y lookup to the file covering that zoom level.
package tiles

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"
)

// schema flavors found in the wild; MBTiles allows both a flat tiles table
// and a deduplicated map+images pair
const (
	schemaTiles     = "tiles"
	schemaMapImages = "map_images"
)

// tileset is one opened .mbtiles file with its parsed metadata.
type tileset struct {
	db      *sql.DB
	path    string
	schema  string
	minzoom int
	maxzoom int
	format  string
	meta    map[string]string
}

// Store routes tile lookups across a directory of .mbtiles files.
type Store struct {
	sets []*tileset // sorted by minzoom
}

// Open loads every *.mbtiles file in dir read-only. An empty directory is
// not an error; the store then simply has no coverage.
func Open(dir string) (*Store, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.mbtiles"))
	if err != nil {
		return nil, fmt.Errorf("bad tiles dir pattern: %w", err)
	}

	store := &Store{}
	for _, path := range paths {
		ts, err := openTileset(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		store.sets = append(store.sets, ts)
		log.Printf("tiles: %s (z%d-%d, %s)", filepath.Base(path), ts.minzoom, ts.maxzoom, ts.format)
	}
	sort.Slice(store.sets, func(i, j int) bool {
		return store.sets[i].minzoom < store.sets[j].minzoom
	})
	return store, nil
}

func openTileset(path string) (*tileset, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	ts := &tileset{db: db, path: path, meta: map[string]string{}}

	// read the metadata key/value table
	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: %w", err)
	}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			db.Close()
			return nil, err
		}
		ts.meta[name] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, err
	}

	ts.format = ts.meta["format"]
	if ts.format == "" {
		ts.format = "png"
	}

	ts.schema, err = detectSchema(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	// trust the metadata zoom range, fall back to querying the tiles
	ts.minzoom, ts.maxzoom, err = zoomRange(db, ts.schema, ts.meta)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ts, nil
}

// detectSchema checks which MBTiles layout the file uses.
func detectSchema(db *sql.DB) (string, error) {
	if tableExists(db, "tiles") {
		return schemaTiles, nil
	}
	if tableExists(db, "map") && tableExists(db, "images") {
		return schemaMapImages, nil
	}
	return "", fmt.Errorf("unsupported MBTiles schema, expected 'tiles' or 'map'+'images'")
}

func tableExists(db *sql.DB, name string) bool {
	var one int
	err := db.QueryRow(
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name=? LIMIT 1`, name,
	).Scan(&one)
	return err == nil
}

func zoomRange(db *sql.DB, schema string, meta map[string]string) (minz, maxz int, err error) {
	if lo, err1 := strconv.Atoi(meta["minzoom"]); err1 == nil {
		if hi, err2 := strconv.Atoi(meta["maxzoom"]); err2 == nil {
			return lo, hi, nil
		}
	}
	table := "tiles"
	if schema == schemaMapImages {
		table = "map"
	}
	err = db.QueryRow(`SELECT MIN(zoom_level), MAX(zoom_level) FROM ` + table).Scan(&minz, &maxz)
	if err != nil {
		err = fmt.Errorf("zoom range: %w", err)
	}
	return
}

// Tile returns the raw tile blob at XYZ coordinates, its content-type and
// an optional content-encoding (vector tiles are usually stored gzipped).
// A tile that is not present returns sql.ErrNoRows.
func (s *Store) Tile(z, x, y int) (data []byte, contentType, encoding string, err error) {
	ts := s.setForZoom(z)
	if ts == nil {
		return nil, "", "", sql.ErrNoRows
	}

	// MBTiles stores rows in TMS order, flip from XYZ
	row := (1 << uint(z)) - 1 - y

	switch ts.schema {
	case schemaTiles:
		err = ts.db.QueryRow(
			`SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?`,
			z, x, row,
		).Scan(&data)
	case schemaMapImages:
		err = ts.db.QueryRow(
			`SELECT i.tile_data FROM map m JOIN images i ON m.tile_id = i.tile_id
			 WHERE m.zoom_level=? AND m.tile_column=? AND m.tile_row=?`,
			z, x, row,
		).Scan(&data)
	}
	if err != nil {
		return nil, "", "", err
	}

	contentType = formatContentType(ts.format)
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		encoding = "gzip"
	}
	return data, contentType, encoding, nil
}

// setForZoom finds the tileset covering the zoom level.
func (s *Store) setForZoom(z int) *tileset {
	for _, ts := range s.sets {
		if z >= ts.minzoom && z <= ts.maxzoom {
			return ts
		}
	}
	return nil
}

// Meta merges the metadata of all loaded files; per-file zoom coverage is
// reported separately so the frontend can show what is loaded.
func (s *Store) Meta() MetaInfo {
	info := MetaInfo{Metadata: map[string]string{}}
	for _, ts := range s.sets {
		for k, v := range ts.meta {
			if _, ok := info.Metadata[k]; !ok {
				info.Metadata[k] = v
			}
		}
		info.Coverage = append(info.Coverage, Coverage{
			File:    filepath.Base(ts.path),
			MinZoom: ts.minzoom,
			MaxZoom: ts.maxzoom,
		})
		if info.MaxZoom < ts.maxzoom {
			info.MaxZoom = ts.maxzoom
		}
	}
	// overall minzoom is the smallest across files
	for i, cov := range info.Coverage {
		if i == 0 || cov.MinZoom < info.MinZoom {
			info.MinZoom = cov.MinZoom
		}
	}
	return info
}

// MetaInfo is the merged metadata served to the frontend.
type MetaInfo struct {
	Metadata map[string]string `json:"metadata"`
	MinZoom  int               `json:"minzoom"`
	MaxZoom  int               `json:"maxzoom"`
	Coverage []Coverage        `json:"coverage"`
}

// Coverage is the zoom range of one loaded file.
type Coverage struct {
	File    string `json:"file"`
	MinZoom int    `json:"minzoom"`
	MaxZoom int    `json:"maxzoom"`
}

// Close closes all underlying databases.
func (s *Store) Close() error {
	var err error
	for _, ts := range s.sets {
		if cerr := ts.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func formatContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "pbf", "mvt":
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}
