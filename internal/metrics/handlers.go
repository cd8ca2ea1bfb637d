package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/storely/storefront-api/pkg/response"
)

// Summary is the aggregate view returned by the metrics query surface.
type Summary struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
	LastN   int     `json:"last_n"`
}

// GinHandlers contains HTTP handlers for the metrics query surface
type GinHandlers struct {
	collector *Collector
}

// NewGinHandlers creates a new set of HTTP handlers for metric queries
func NewGinHandlers(collector *Collector) *GinHandlers {
	return &GinHandlers{
		collector: collector,
	}
}

// GetMetricHandler handles GET requests for aggregated metric values
// URL parameter: key; query parameter: last_n (default 100)
func (h *GinHandlers) GetMetricHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if key == "" {
			response.BadRequest(c, "Metric key is required")
			return
		}

		lastN := 100
		if raw := c.Query("last_n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "last_n must be a positive integer")
				return
			}
			lastN = parsed
		}

		response.Success(c, Summary{
			Key:     key,
			Count:   h.collector.Count(key),
			Sum:     h.collector.Sum(key, lastN),
			Average: h.collector.Average(key, lastN),
			LastN:   lastN,
		})
	}
}
