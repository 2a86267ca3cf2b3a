package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"tripbook/internal/config"
)

// CORS builds the cross-origin middleware from security config. An empty
// origin list means allow-all, which is only sensible in development.
func CORS(cfg *config.SecurityConfig) gin.HandlerFunc {
	c := cors.DefaultConfig()

	if len(cfg.CORS.AllowOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.CORS.AllowOrigins
	}

	if len(cfg.CORS.AllowMethods) > 0 {
		c.AllowMethods = cfg.CORS.AllowMethods
	}

	c.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
		"X-Requested-With",
		"Accept",
	}
	if len(cfg.CORS.AllowHeaders) > 0 {
		c.AllowHeaders = cfg.CORS.AllowHeaders
	}

	c.AllowCredentials = cfg.CORS.AllowCredentials && !c.AllowAllOrigins
	if cfg.CORS.MaxAge > 0 {
		c.MaxAge = time.Duration(cfg.CORS.MaxAge) * time.Second
	}

	return cors.New(c)
}
