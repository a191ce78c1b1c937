package tiles

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func TestGroupZoomsByLimit(t *testing.T) {
	zooms := []int{0, 1, 2, 3, 4}
	sizes := map[int]int64{0: 10, 1: 20, 2: 30, 3: 80, 4: 80}

	// overhead 1.0 keeps the arithmetic readable
	got := groupZoomsByLimit(zooms, sizes, 100, 1.0)
	want := [][]int{{0, 1, 2}, {3}, {4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}

	// everything fits in one file
	got = groupZoomsByLimit(zooms, sizes, 1000, 1.0)
	want = [][]int{{0, 1, 2, 3, 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}

	// a zoom over the limit by itself still gets its own group
	got = groupZoomsByLimit([]int{7}, map[int]int64{7: 500}, 100, 1.0)
	want = [][]int{{7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("oversized zoom groups = %v, want %v", got, want)
	}

	// the overhead factor tips a borderline group over
	got = groupZoomsByLimit([]int{0, 1}, map[int]int64{0: 40, 1: 40}, 100, 1.5)
	want = [][]int{{0}, {1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("overhead groups = %v, want %v", got, want)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"taiwan":        "taiwan",
		"  my map!  ":   "my_map_",
		"a/b\\c":        "a_b_c",
		"":              "output",
		"base_z0-4.new": "base_z0-4.new",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := filepath.Join(srcDir, "basemap.mbtiles")

	// three zooms of ~4 KB each; a 6 KB limit forces multiple outputs
	blobs := map[[3]int][]byte{}
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	for z := 0; z <= 2; z++ {
		blobs[[3]int{z, 0, 0}] = payload
	}
	writeTestMBTiles(t, src, "png", 0, 2, blobs)

	results, err := Split(context.Background(), SplitOptions{
		Input:    src,
		OutDir:   outDir,
		LimitMB:  6.0 / 1024.0, // 6 KB
		Overhead: 1.0,
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d output files, want at least 2", len(results))
	}

	// outputs must cover the source range without gaps, in order
	if results[0].MinZoom != 0 {
		t.Errorf("first output starts at z%d, want 0", results[0].MinZoom)
	}
	if last := results[len(results)-1]; last.MaxZoom != 2 {
		t.Errorf("last output ends at z%d, want 2", last.MaxZoom)
	}
	for i := 1; i < len(results); i++ {
		if results[i].MinZoom != results[i-1].MaxZoom+1 {
			t.Errorf("gap between outputs %d and %d: z%d then z%d",
				i-1, i, results[i-1].MaxZoom, results[i].MinZoom)
		}
	}

	// the split output must be servable by the Store
	store, err := Open(outDir)
	if err != nil {
		t.Fatalf("Open split output: %v", err)
	}
	defer store.Close()
	for z := 0; z <= 2; z++ {
		data, _, _, err := store.Tile(z, 0, 0)
		if err != nil {
			t.Fatalf("Tile z%d after split: %v", z, err)
		}
		if !bytes.Equal(data, payload) {
			t.Errorf("tile z%d corrupted by split", z)
		}
	}

	// metadata zoom range is rewritten per file
	meta := store.Meta()
	if meta.Metadata["name"] != "testmap" {
		t.Errorf("metadata name = %q, want testmap (copied from source)", meta.Metadata["name"])
	}
	if meta.MinZoom != 0 || meta.MaxZoom != 2 {
		t.Errorf("meta zoom range = %d-%d, want 0-2", meta.MinZoom, meta.MaxZoom)
	}
}

func TestSplitMapImagesSchema(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := filepath.Join(srcDir, "dedup.mbtiles")

	blob := []byte("shared-image-data")
	writeTestMapImages(t, src, map[[3]int][]byte{
		{0, 0, 0}: blob,
		{1, 0, 0}: blob,
	})

	results, err := Split(context.Background(), SplitOptions{
		Input:  src,
		OutDir: outDir,
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d output files, want 1", len(results))
	}

	store, err := Open(outDir)
	if err != nil {
		t.Fatalf("Open split output: %v", err)
	}
	defer store.Close()
	for z := 0; z <= 1; z++ {
		data, _, _, err := store.Tile(z, 0, 0)
		if err != nil {
			t.Fatalf("Tile z%d after split: %v", z, err)
		}
		if !bytes.Equal(data, blob) {
			t.Errorf("tile z%d corrupted by split", z)
		}
	}
}
