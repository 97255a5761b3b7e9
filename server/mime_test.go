package server

import "testing"

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"static/app.json":     "application/json",
		"index.html":          "text/html",
		"INDEX.HTM":           "text/html",
		"a/b/c.Png":           "image/png",
		"font.woff2":          "font/woff2",
		"bundle.min.mjs":      "application/javascript",
		"archive.tar.gz":      "application/gzip",
		"notes.txt":           "text/plain",
		"blob.bin":            "application/octet-stream",
		"Makefile":            "application/octet-stream",
		"./static.d/readme":   "application/octet-stream",
		"trailing-dot.":       "application/octet-stream",
		"/var/www/clip.webm":  "video/webm",
		"/var/www/track.mp3":  "audio/mpeg",
		"/var/www/vector.svg": "image/svg+xml",
	}

	for path, want := range tests {
		if got := ContentType(path); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
