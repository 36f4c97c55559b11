package server

import (
	"net/http"
	"strings"
	"time"

	handler "auction-engine/services/bidding/handler"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the router's environment-dependent settings
type Options struct {
	// AllowedOrigins lists the browser origins allowed to call the API; "*" allows any
	AllowedOrigins []string
	// Gatherer backs GET /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(service handler.BiddingServiceInterface, rooms handler.Rooms, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	router.GET("/healthz", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"time": time.Now().UTC().Format(time.RFC3339)}, "ok")
	})
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	biddingHandler := handler.NewBiddingHandler(service)
	realtimeHandler := handler.NewRealtimeHandler(service, rooms, opts.AllowedOrigins)

	router.GET("/ws", realtimeHandler.ServeWS)

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsHandler)
		auctions.POST("/:auction_id/bids", biddingHandler.PlaceBidHandler)
		auctions.POST("/:auction_id/cancel", biddingHandler.CancelAuctionHandler)
		auctions.POST("/:auction_id/reconcile", biddingHandler.ReconcileHandler)
	}

	return router
}

func corsConfig(allowed []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Accept", "Content-Type", helpers.HeaderUserID, helpers.HeaderUserRole},
		MaxAge:       12 * time.Hour,
	}

	var origins []string
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
