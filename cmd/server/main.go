package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/handlers"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/internal/services"
	"loadtrace-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 LOADTRACE BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("❌ DATABASE_URL environment variable is required")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ Database migrations failed: %v", err)
	}

	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("❌ User seeding failed: %v", err)
	}

	store := database.NewStore(db)

	// Initialize Firebase Cloud Messaging
	// Supports both file path and base64-encoded credentials (for Railway/cloud deployments)
	var fcmService *services.FCMService
	fcmCredsBase64 := os.Getenv("FIREBASE_CREDENTIALS_BASE64")

	if fcmCredsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(fcmCredsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcmCredentialsFile := os.Getenv("FIREBASE_CREDENTIALS_FILE")
		if fcmCredentialsFile == "" {
			fcmCredentialsFile = "./firebase-service-account.json"
		}

		fcmService, err = services.NewFCMService(fcmCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	// Geocoding: Nominatim primary, HERE fallback when a key is configured
	resolver := services.NewGeoResolver(services.GeoResolverConfig{
		PrimaryBaseURL: os.Getenv("NOMINATIM_BASE_URL"),
		FallbackAPIKey: os.Getenv("HERE_API_KEY"),
		UserAgent:      os.Getenv("GEOCODER_USER_AGENT"),
	}, store)

	// Stop transition engine, fed by driver pings and the background monitor
	engine := services.NewStopTransitionEngine(store, store, resolver, store)
	engine.OnTransition = func(t services.StopTransition) {
		load, err := store.GetLoad(t.LoadID)
		if err != nil || load == nil {
			return
		}
		wsHub.BroadcastToUser(load.BrokerID, map[string]interface{}{
			"type": "stop_transition",
			"data": t,
		})
		if fcmService != nil {
			notifyBroker(store, load.BrokerID, func(token string) error {
				return fcmService.SendStopTransitionNotification(token, *load, t)
			})
		}
	}

	monitor := services.NewGeofenceMonitor(store, engine, 0)
	monitor.Start()

	detector := services.NewExceptionDetector(store, 0, -1)
	detector.OnOpened = func(load models.Load, ev models.ExceptionEvent) {
		wsHub.BroadcastToUser(load.BrokerID, map[string]interface{}{
			"type": "exception_opened",
			"data": ev,
		})
		if fcmService != nil {
			notifyBroker(store, load.BrokerID, func(token string) error {
				return fcmService.SendExceptionNotification(token, load, ev)
			})
		}
	}
	detector.OnResolved = func(loadID string, t models.ExceptionType) {
		load, err := store.GetLoad(loadID)
		if err != nil || load == nil {
			return
		}
		wsHub.BroadcastToUser(load.BrokerID, map[string]interface{}{
			"type": "exception_resolved",
			"data": map[string]string{"load_id": loadID, "exception_type": string(t)},
		})
	}
	detector.Start()

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", handlers.Login(store))

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", websocket.HandleWebSocket(wsHub))

	r.Route("/api", func(r chi.Router) {
		// Public tracking page: the unguessable token is the credential
		r.Get("/track/{token}", handlers.TrackLoad(store))

		// Driver endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole("driver"))

			r.Post("/driver/ping", handlers.SubmitPing(store, engine, wsHub))
		})

		// Any authenticated user can register a push token
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			r.Post("/fcm-token", handlers.RegisterFCMToken(store))
		})

		// Broker endpoints (admins can see everything)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireAnyRole("broker", "admin"))

			r.Post("/loads", handlers.CreateLoad(store))
			r.Get("/loads", handlers.GetLoads(store))
			r.Get("/loads/{id}", handlers.GetLoad(store))
			r.Patch("/loads/{id}/status", handlers.UpdateLoadStatus(store))
			r.Get("/loads/{id}/exceptions", handlers.GetLoadExceptions(store))
			r.Post("/loads/{id}/exceptions/{eventID}/resolve", handlers.ResolveException(store))
			r.Get("/loads/{id}/geofence-debug", handlers.GeofenceDebug(store, engine))
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole("admin"))

			r.Post("/users", handlers.CreateUser(store))
			r.Get("/geofence/status", handlers.GeofenceStatus(monitor))
			r.Post("/exceptions/scan", handlers.TriggerExceptionScan(detector))
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		log.Printf("⚠️  PORT not set, using default: %s", port)
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Println("═══════════════════════════════════════════════════════════════════")
		log.Println("✅ ALL INITIALIZATION COMPLETE")
		log.Printf("🚀 Server starting on http://localhost:%s", port)
		log.Println("═══════════════════════════════════════════════════════════════════")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, then stop the background loops
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  HTTP shutdown error: %v", err)
	}
	monitor.Stop()
	detector.Stop()
	log.Println("✅ Shutdown complete")
}

// notifyBroker pushes to every device the broker has registered
func notifyBroker(store *database.Store, brokerID string, send func(token string) error) {
	tokens, err := store.FCMTokensForUser(brokerID)
	if err != nil {
		log.Printf("⚠️  Failed to load FCM tokens for %s: %v", brokerID, err)
		return
	}
	for _, t := range tokens {
		if err := send(t.Token); err != nil {
			log.Printf("⚠️  FCM push to %s failed: %v", brokerID, err)
		}
	}
}
