package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware_LabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()

	router := gin.New()
	router.Use(Metrics(metrics.New(reg)))
	router.GET("/transfers/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/transfers/a", "/transfers/b", "/nowhere"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "escrow_http_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			counts[labels["route"]+" "+labels["status"]] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(2), counts["/transfers/:id 404"])
	assert.Equal(t, float64(1), counts["unmatched 404"])
}
