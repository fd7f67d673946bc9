package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kavindya12/soa-microservices-platform/internal/config"
)

const corsMaxAge = "600"

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     string
	headers     string
	credentials bool
}

func newCORSPolicy(cfg config.Config) corsPolicy {
	p := corsPolicy{
		origins:     make(map[string]struct{}, len(cfg.CORSAllowedOrigins)),
		methods:     strings.Join(cfg.CORSAllowedMethods, ", "),
		headers:     strings.Join(cfg.CORSAllowedHeaders, ", "),
		credentials: cfg.CORSAllowCredentials,
	}
	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// CORS applies the configured cross-origin policy. Preflight requests end here with 204.
// A wildcard is echoed back as the concrete origin when credentials are allowed.
func CORS(cfg config.Config) gin.HandlerFunc {
	policy := newCORSPolicy(cfg)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if origin != "" && policy.allows(origin) {
			h := c.Writer.Header()
			h.Add("Vary", "Origin")
			if policy.anyOrigin && !policy.credentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if policy.credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if preflight {
				h.Set("Access-Control-Allow-Methods", policy.methods)
				h.Set("Access-Control-Allow-Headers", policy.headers)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}
		}

		if preflight {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
