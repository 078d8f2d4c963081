package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietRoutes are polled by orchestrators and logged at debug only.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Logger writes one line per request. For a websocket upgrade the line is
// written when the session ends, so duration is the session length.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.GetHeader("Upgrade") == "websocket"

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if query := redactQuery(c.Request.URL.Query()); query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if userID, ok := UserID(c); ok {
			fields = append(fields, zap.String("user_id", userID.String()))
		}

		msg := "Request completed"
		if upgrade {
			msg = "WebSocket session ended"
		}
		level := requestLevel(status, quietRoutes[c.Request.URL.Path])
		switch level {
		case zapcore.ErrorLevel:
			msg = "Server error"
		case zapcore.WarnLevel:
			msg = "Client error"
		}
		if ce := logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestLevel(status int, quiet bool) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	case quiet:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// redactQuery hides the token parameter, which carries credentials.
func redactQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	if values.Has("token") {
		values.Set("token", "REDACTED")
	}
	return values.Encode()
}
