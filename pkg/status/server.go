package status

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/store"
)

const maxListLimit = 500

// NewHandler builds the read-only status API:
//
//	GET /healthz
//	GET /api/v1/runs?limit=&outcome=&ref=
//	GET /api/v1/runs/:id
func NewHandler(src Source, auth AuthConfig) http.Handler {
	logger := common.GetLogger().WithComponent("status")
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := engine.Group("/api/v1")
	if auth.Enabled() {
		api.Use(RequireJWT(auth))
	}
	api.GET("/runs", func(c *gin.Context) {
		limit := defaultHistoryLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxListLimit)
		}
		items, err := List(c.Request.Context(), src, store.ListOptions{
			Limit:     limit,
			Outcome:   c.Query("outcome"),
			SourceRef: c.Query("ref"),
		})
		if err != nil {
			logger.Error("list runs failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": items})
	})
	api.GET("/runs/:id", func(c *gin.Context) {
		d, err := Show(c.Request.Context(), src, c.Param("id"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case err != nil:
			logger.Error("get run failed", "run_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		default:
			c.JSON(http.StatusOK, d)
		}
	})
	return engine
}
