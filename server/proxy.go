package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	shttp "spectation/http"
	"spectation/resolver"
)

var errMissingURL = errors.New("url parameter required")

// handleProxy relays a remote media URL. The url parameter may be plain
// (query-escaped) or base64url encoded. Range is forwarded so players can
// seek.
func (s *Server) handleProxy(c *gin.Context) {
	target, err := decodeTarget(c.Query("url"))
	if err != nil {
		c.JSON(http.StatusBadRequest, resolver.ErrorResponse{Error: err.Error()})
		return
	}

	headers := map[string]string{}
	if r := c.GetHeader("Range"); r != "" {
		headers["Range"] = r
	}

	resp, err := s.media.Stream(c.Request.Context(), target, headers)
	if err != nil {
		status := http.StatusBadGateway
		if code := shttp.StatusCode(err); code >= 400 && code < 500 {
			status = code
		}
		s.logger.Warn("proxy failed", "status", status, "error", err, "request_id", c.GetString(requestIDKey))
		c.JSON(status, resolver.ErrorResponse{Error: "proxy error: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	extra := map[string]string{}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		extra["Content-Range"] = cr
		extra["Accept-Ranges"] = "bytes"
	}

	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, extra)
}

func decodeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingURL
	}
	if isHTTPURL(raw) {
		return raw, nil
	}
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(raw); err == nil && isHTTPURL(string(b)) {
			return string(b), nil
		}
	}
	return "", errors.New("url must be an http or https address")
}
