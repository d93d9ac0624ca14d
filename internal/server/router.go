package server

import (
	handler "realtime-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

const (
	healthPath = "/healthz"
	socketPath = "/ws"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(bids *handler.BiddingHandler, sockets *handler.SocketHandler, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery()) // recover from panics
	router.Use(RequestIDMiddleware)
	router.Use(RequestLoggerMiddleware)
	router.Use(middleware...)

	router.GET(socketPath, sockets.ServeWS)

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:auction_id", bids.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", bids.RecordBidHandler)
	}

	return router
}
