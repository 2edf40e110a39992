package handlers

import (
	"net/http"
	"path"
	"strings"
)

// contentTypes maps streaming output extensions to their media types.
var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".jpg":  "image/jpeg",
}

// OutputHandler serves generated HLS or DASH trees from a directory.
type OutputHandler struct {
	fileServer http.Handler
}

// NewOutputHandler serves the files below root. Directory listings are refused.
func NewOutputHandler(root string) *OutputHandler {
	return &OutputHandler{fileServer: http.FileServer(http.Dir(root))}
}

// ServeHTTP handles HTTP requests for output files.
func (h *OutputHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath == "/" || strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}

	h.setHeaders(w, urlPath)
	h.fileServer.ServeHTTP(w, r)
}

// setHeaders sets content-type and cache headers. Manifests change while a
// conversion runs; segments never change once written.
func (h *OutputHandler) setHeaders(w http.ResponseWriter, filePath string) {
	ext := strings.ToLower(path.Ext(filePath))
	if ct, ok := contentTypes[ext]; ok {
		w.Header().Set("Content-Type", ct)
	}

	switch ext {
	case ".m3u8", ".mpd":
		w.Header().Set("Cache-Control", "no-cache")
	case ".ts", ".m4s":
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	default:
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}
}
