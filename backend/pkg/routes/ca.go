package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/backend/pkg/controllers"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/sirupsen/logrus"
)

func NewCAHTTPLayer(parentRouterGroup *gin.RouterGroup, svc services.CAService) {
	routes := controllers.NewCAHttpRoutes(svc)

	rv1 := parentRouterGroup.Group("/v1")

	rv1.GET("/engines", routes.GetCryptoEngineProvider)
	rv1.GET("/stats", routes.GetStats)

	rv1.POST("/cas", routes.CreateCA)
	rv1.GET("/cas", routes.GetAllCAs)
	rv1.GET("/cas/:id", routes.GetCAByID)
	rv1.GET("/cas/sn/:sn", routes.GetCABySerialNumber)
	rv1.POST("/cas/:id/status", routes.UpdateCAStatus)
	rv1.PUT("/cas/:id/metadata", routes.UpdateCAMetadata)
	rv1.POST("/cas/:id/certificates/sign", routes.SignCertificate)
	rv1.GET("/cas/:id/certificates", routes.GetCertificatesByCA)

	rv1.GET("/certificates", routes.GetCertificates)
	rv1.POST("/certificates/import", routes.ImportCertificate)
	rv1.GET("/certificates/status/:status", routes.GetCertificatesByStatus)
	rv1.GET("/certificates/expiration", routes.GetCertificatesByExpirationDate)
	rv1.GET("/certificates/:sn", routes.GetCertificateBySerialNumber)
	rv1.PUT("/certificates/:sn/status", routes.UpdateCertificateStatus)
	rv1.PUT("/certificates/:sn/metadata", routes.UpdateCertificateMetadata)

	rv1.POST("/profiles", routes.CreateIssuanceProfile)
	rv1.GET("/profiles", routes.GetIssuanceProfiles)
	rv1.GET("/profiles/:id", routes.GetIssuanceProfileByID)
	rv1.PUT("/profiles/:id", routes.UpdateIssuanceProfile)
	rv1.DELETE("/profiles/:id", routes.DeleteIssuanceProfile)
}

func NewCAHTTPService(logger *logrus.Entry, svc services.CAService) *gin.Engine {
	engine := NewGinEngine(logger)
	NewCAHTTPLayer(&engine.RouterGroup, svc)

	return engine
}
