package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// probePaths are the connectivity checks various operating systems make
// when they join a network. Answering them with a redirect pops the
// captive portal dialog and lands the user on the frontend.
var probePaths = []string{
	"/generate_204",              // Android
	"/gen_204",                   // Android
	"/hotspot-detect.html",       // macOS / iOS
	"/library/test/success.html", // older iOS
	"/connecttest.txt",           // Windows
	"/ncsi.txt",                  // Windows
	"/success.txt",               // Firefox
}

// RegisterCaptivePortal answers the well-known connectivity probes with a
// redirect to the frontend root.
func RegisterCaptivePortal(mux *http.ServeMux) {
	for _, path := range probePaths {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/", http.StatusFound)
		})
	}
}

// Frontend serves the static frontend files. Unknown paths fall back to
// index.html so client-side routes work, and so every stray request from
// a captive client ends up on the portal page.
func Frontend(dir string) http.Handler {
	fileserver := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileserver.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/" || strings.HasSuffix(r.URL.Path, "/") {
			fileserver.ServeHTTP(w, r)
			return
		}

		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
