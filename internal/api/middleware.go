package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/bbernhard/cifar-playground/internal/predict"
	raven "github.com/getsentry/raven-go"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: msg})
}

// serverError logs err, reports it to sentry and answers with a 500.
func (s *Server) serverError(c *gin.Context, err error, filename string) {
	log.Error("[API] ", c.Request.URL.Path, ": ", err.Error())
	raven.CaptureError(err, map[string]string{
		"endpoint": c.FullPath(),
		"filename": filename,
	})
	writeError(c, http.StatusInternalServerError, err.Error())
}

// bodyLimit rejects bodies larger than limit. MaxMultipartMemory only decides
// when uploads spill to disk, so the body itself is capped here.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			writeError(c, http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// uploadError answers a failed multipart parse: 413 when the body limit was
// hit, 400 otherwise.
func uploadError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(c, http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
		return
	}
	writeError(c, http.StatusBadRequest, msg)
}

// imageError answers a failed decode: 413 for images over the pixel limit,
// 500 for everything else.
func (s *Server) imageError(c *gin.Context, err error, filename string) {
	if errors.Is(err, predict.ErrImageTooLarge) {
		log.Debug("[API] Rejected ", filename, ": ", err.Error())
		writeError(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	s.serverError(c, err, filename)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("[API] request")
	}
}

// cors allows browser clients served from origins to call the API. An origin
// of "*" allows any.
func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-PINGOTHER, X-File-Name, Cache-Control")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Location")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
