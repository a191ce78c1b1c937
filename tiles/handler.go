package tiles

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
)

// Handler serves tiles on a route with {z}, {x} and {y} path values.
func (s *Store) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		z, errz := strconv.Atoi(r.PathValue("z"))
		x, errx := strconv.Atoi(r.PathValue("x"))
		y, erry := strconv.Atoi(r.PathValue("y"))
		if errz != nil || errx != nil || erry != nil || z < 0 || z > 24 || x < 0 || y < 0 {
			http.Error(w, "bad tile coordinates", http.StatusBadRequest)
			return
		}

		data, contentType, encoding, err := s.Tile(z, x, y)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "tile not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("ERR: tile %d/%d/%d: %s", z, x, y, err)
			http.Error(w, "tile lookup failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("content-type", contentType)
		if encoding != "" {
			w.Header().Set("content-encoding", encoding)
		}
		// the basemap is immutable between repackagings
		w.Header().Set("cache-control", "public, max-age=86400")
		w.Write(data)
	}
}

// MetaHandler serves the merged metadata and zoom coverage as JSON.
func (s *Store) MetaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(s.Meta())
	}
}
