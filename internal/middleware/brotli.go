package middleware

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// brotliMinLength is the smallest body worth compressing. Signal mailboxes
// full of SDP blobs are well above it; error envelopes are not.
const brotliMinLength = 1024

type brotliWriter struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	minLength int
	quality   int
	writer    *brotli.Writer
}

// Write buffers until minLength bytes are seen, then switches the response to
// brotli and streams everything after.
func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.writer != nil {
		return bw.writer.Write(data)
	}

	bw.buf.Write(data)
	if bw.buf.Len() < bw.minLength {
		return len(data), nil
	}

	h := bw.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.writer = brotli.NewWriterLevel(bw.ResponseWriter, bw.quality)
	if _, err := bw.writer.Write(bw.buf.Bytes()); err != nil {
		return 0, err
	}
	bw.buf.Reset()
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// finish writes a short body uncompressed or closes the brotli stream.
func (bw *brotliWriter) finish() error {
	if bw.writer != nil {
		return bw.writer.Close()
	}
	if bw.buf.Len() == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf.Bytes())
	return err
}

// Brotli compresses large JSON responses for clients that accept "br".
// WebSocket upgrades pass through untouched.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			minLength:      brotliMinLength,
			quality:        brotli.DefaultCompression,
		}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Next()
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
