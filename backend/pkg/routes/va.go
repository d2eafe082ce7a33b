package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/backend/pkg/controllers"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/sirupsen/logrus"
)

func NewValidationRoutes(parentRouterGroup *gin.RouterGroup, svc services.VAService) {
	routes := controllers.NewVAHttpRoutes(svc)

	parentRouterGroup.GET("/ocsp/:ocsp_request", routes.Verify)
	parentRouterGroup.POST("/ocsp", routes.Verify)
	parentRouterGroup.GET("/crl/:ca-ski", routes.CRL)

	rv1 := parentRouterGroup.Group("/v1")
	rv1.GET("/roles", routes.GetRoles)
	rv1.GET("/roles/:ca-ski", routes.GetRoleByID)
	rv1.PUT("/roles/:ca-ski", routes.UpdateRole)
}

func NewVAHTTPService(logger *logrus.Entry, svc services.VAService) *gin.Engine {
	engine := NewGinEngine(logger)
	NewValidationRoutes(&engine.RouterGroup, svc)

	return engine
}
