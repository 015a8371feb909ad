package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.ApiService/controllers"
	audit "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Audit"
	claimingmode "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.ClaimingMode"
	client "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.CloudClient"
	container "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Container"
	engine "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Engine"
	mqtlistener "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Listener"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	revocation "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Revocation"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	identity := ctr.GetIdentity()
	logger.WithDevice(identity.String()).Info("Starting claim agent")

	// Open local persistence
	db, err := ctr.GetDatabase()
	if err != nil {
		logger.FatalWithError(err, "Failed to open local database")
	}

	credStore, err := ctr.GetCredentialStore()
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize credential store")
	}

	auditLog, err := audit.NewLog(db, logger)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize audit log")
	}

	// Cloud transport and revocation verifier
	cloud := client.NewCloudClient(config.Cloud.BaseURL, config.Cloud.RequestTimeout)
	verifier := revocation.NewVerifier(cloud, identity.ClientID(), config.Cloud.VerifyTimeout, logger)

	// Service discovery and user feedback
	port, err := strconv.Atoi(config.Server.Port)
	if err != nil {
		logger.FatalWithError(err, "Invalid server port")
	}
	advertiser := claimingmode.NewZeroconfAdvertiser(
		identity.ClientID(),
		config.Claiming.DiscoveryName,
		config.Claiming.DiscoveryDomain,
		port,
		logger,
	)
	defer advertiser.Shutdown()
	cues := claimingmode.NewLogEmitter(logger)

	// Claim engine
	eng, err := engine.New(engine.Config{
		WindowDuration: config.Claiming.WindowDuration,
		PollInterval:   config.Claiming.PollInterval,
		PollTimeout:    config.Cloud.RequestTimeout,
	}, engine.Deps{
		Identity:   identity,
		Store:      credStore,
		Cloud:      cloud,
		Verifier:   verifier,
		Audit:      auditLog,
		Advertiser: advertiser,
		Cues:       cues,
		Logger:     logger,
	})
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize claim engine")
	}

	// Broker listener: carries revoke instructions in, audit entries out
	listener := mqtlistener.New(config.MQTT, eng, logger)
	auditLog.SetForwarder(listener)
	eng.OnCredentialChange(func(cred clmmodels.Credential, claimed bool) {
		if claimed {
			listener.ApplyCredential(cred)
		} else {
			listener.Drop()
		}
	})

	// Reconnect immediately when booting already claimed
	if cred, claimed, err := credStore.Load(); err != nil {
		logger.FatalWithError(err, "Failed to read credential record")
	} else if claimed {
		listener.ApplyCredential(cred)
	}

	// Advertise presence; the claiming attribute flips with the window
	advertiser.SetClaiming(false)

	// Claiming-mode button controller
	var button claimingmode.ButtonInput
	if config.Claiming.ButtonPath != "" {
		button = claimingmode.NewSysfsButton(config.Claiming.ButtonPath, config.Claiming.ButtonActiveLow)
	} else {
		logger.Info("No claim button configured, window opens via management API only")
		button = claimingmode.NullButton{}
	}
	modeCtx, modeCancel := context.WithCancel(context.Background())
	defer modeCancel()
	modeController := claimingmode.NewController(
		button,
		eng,
		cues,
		config.Claiming.HoldThreshold,
		config.Claiming.ButtonSample,
		logger,
	)
	modeController.Start(modeCtx)

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	claimController := controllers.NewClaimController(eng, auditLog, logger)
	healthController := controllers.NewHealthController(eng, listener, cloud, logger)

	claimController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Management API starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start management API")
		}
	}()

	logger.Info("Claim agent running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Graceful shutdown: stop taking requests, then stop the engine. A
	// window open at shutdown is forfeited, never persisted.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}

	modeCancel()
	modeController.Wait()
	eng.Stop()
}
