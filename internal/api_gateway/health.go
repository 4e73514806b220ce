package api_gateway

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe reports whether one backing store is reachable
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// healthHandler runs every probe and answers 503 when any of them fails
func healthHandler(probes map[string]Probe) gin.HandlerFunc {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		checks := make(gin.H, len(names))
		for _, name := range names {
			if err := probes[name](ctx); err != nil {
				checks[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		c.JSON(code, gin.H{"status": status, "checks": checks, "timestamp": time.Now().UTC()})
	}
}
