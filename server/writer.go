package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

var reasons = map[int]string{
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
}

// Reason returns the reason phrase written for code.
func Reason(code int) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return "Unknown Error"
}

// ResponseWriter serializes responses onto a connection.
type ResponseWriter struct {
	ViewRoot string
}

// Write emits resp to w. A view or file that cannot be opened downgrades
// resp to a bodiless 404 before anything is written.
func (rw ResponseWriter) Write(w io.Writer, resp *Response) error {
	bw := bufio.NewWriter(w)

	var err error
	switch {
	case resp.Body != nil:
		writeHead(bw, resp)
		_, err = bw.Write(resp.Body)
	case resp.View != "":
		err = rw.writeFile(bw, resp, rw.viewPath(resp.View), false)
	case resp.File != "":
		err = rw.writeFile(bw, resp, resp.File, true)
	default:
		writeHead(bw, resp)
	}

	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return err
}

func (rw ResponseWriter) viewPath(name string) string {
	if rw.ViewRoot == "" {
		return name
	}
	return filepath.Join(rw.ViewRoot, name)
}

func (rw ResponseWriter) writeFile(bw *bufio.Writer, resp *Response, path string, retype bool) error {
	f, err := openRegular(path)
	if err != nil {
		log.Debug().Str("component", "writer").Err(err).Str("path", path).Msg("error opening file")
		resp.Status = 404
		delete(resp.Headers, "Content-Type")
		writeHead(bw, resp)
		return nil
	}
	defer f.Close()

	if retype {
		if resp.Headers == nil {
			resp.Headers = make(map[string]string)
		}
		resp.Headers["Content-Type"] = ContentType(path)
	}

	writeHead(bw, resp)
	if _, err := io.Copy(bw, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

var errIsDirectory = errors.New("is a directory")

func openRegular(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, errIsDirectory)
	}
	return f, nil
}

// writeHead writes the status line, headers sorted by key, and the blank
// line. Errors stick to bw and surface on Flush.
func writeHead(bw *bufio.Writer, resp *Response) {
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.Status, Reason(resp.Status))

	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(bw, "%s: %s\r\n", k, resp.Headers[k])
	}

	bw.WriteString("\r\n")
}
