package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// Log returns the process-wide logger
func Log() *logrus.Logger {
	return logger
}

// Configure applies the configured level and format to the global logger
func Configure(level string, jsonFormat bool) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		logger.Warnf("Invalid log level %q, falling back to info.", level)
	}
	logger.SetLevel(parsed)

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
}

// GinHandlerFunc returns a gin middleware logging each request
func GinHandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if errorMessage != "" {
			logger.Warnf("Request [%s]%s took %s - Result: %d - %s", c.Request.Method, path, latency, statusCode, errorMessage)
		} else {
			logger.Infof("Request [%s]%s took %s - Result: %d", c.Request.Method, path, latency, statusCode)
		}
	}
}
