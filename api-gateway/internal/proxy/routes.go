package proxy

import (
	"github.com/gin-gonic/gin"
)

type Upstreams struct {
	TokenService      string
	PreferenceService string
	WorkflowService   string
}

// RegisterRoutes mounts the public API. Token routes are open; everything else
// passes auth at the edge before it is forwarded.
func RegisterRoutes(router gin.IRouter, p *Proxy, upstreams Upstreams, auth gin.HandlerFunc) {
	// Auth routes (no authentication required)
	router.POST("/v1/auth/token", p.To(upstreams.TokenService))
	router.POST("/v1/auth/refresh", p.To(upstreams.TokenService))

	// Preference routes
	preferences := p.To(upstreams.PreferenceService)
	router.Any("/v1/preferences", auth, preferences)
	router.Any("/v1/preferences/*path", auth, preferences)

	// Workflow routes
	router.GET("/v1/workflows/*path", auth, p.To(upstreams.WorkflowService))
}
