package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/backend/pkg/controllers"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/sirupsen/logrus"
)

func NewACMERoutes(parentRouterGroup *gin.RouterGroup, svc services.ACMEService, directoryBaseURL string, meta resources.ACMEDirectoryMeta) {
	routes := controllers.NewACMEHttpRoutes(svc, directoryBaseURL, meta)

	acme := parentRouterGroup.Group("/acme")

	acme.GET("/directory", routes.Directory)
	acme.HEAD("/new-nonce", routes.NewNonce)
	acme.GET("/new-nonce", routes.NewNonce)
	acme.POST("/new-account", routes.NewAccount)
	acme.POST("/acct/:id", routes.Account)
	acme.POST("/acct/:id/orders", routes.AccountOrders)
	acme.POST("/new-order", routes.NewOrder)
	acme.POST("/order/:id", routes.Order)
	acme.POST("/order/:id/finalize", routes.FinalizeOrder)
	acme.POST("/authz/:id", routes.Authorization)
	acme.POST("/chall/:id", routes.Challenge)
	acme.POST("/cert/:id", routes.Certificate)
}

func NewACMEHTTPService(logger *logrus.Entry, svc services.ACMEService, directoryBaseURL string, meta resources.ACMEDirectoryMeta) *gin.Engine {
	engine := NewGinEngine(logger)
	NewACMERoutes(&engine.RouterGroup, svc, directoryBaseURL, meta)

	return engine
}
