package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tubefeed/database"
	"tubefeed/handlers"
	"tubefeed/middleware"
	"tubefeed/models"
	"tubefeed/services"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	apiKey := os.Getenv("YOUTUBE_API_KEY")
	if apiKey == "" {
		log.Fatal("YOUTUBE_API_KEY is required")
	}

	ctx := context.Background()

	db, err := database.NewDatabase(dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ytService, err := services.NewYouTubeService(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to initialize YouTube client: %v", err)
	}

	feedParser := services.NewFeedParser()
	resolver := services.NewResolverService(ytService)
	queueService := services.NewQueueService(db)
	videoService := services.NewVideoService(db, feedParser, ytService, queueService)
	subscriptionService := services.NewSubscriptionService(db, resolver, feedParser, ytService)
	opmlService := services.NewOPMLService(subscriptionService)
	authService := services.NewAuthService(db)

	if err := authService.EnsureDefaultUser(); err != nil {
		log.Fatalf("Failed to ensure default user: %v", err)
	}

	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionService, videoService)
	videoHandlers := handlers.NewVideoHandlers(videoService, queueService)
	opmlHandlers := handlers.NewOPMLHandlers(opmlService)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status": "ok", "timestamp": "%s"}`, time.Now().Format(time.RFC3339))
	}).Methods("GET")

	// Auth routes
	api.HandleFunc("/auth/login", authMiddleware.Login).Methods("POST")
	api.HandleFunc("/auth/logout", authMiddleware.Logout).Methods("POST")
	api.HandleFunc("/auth/me", authMiddleware.GetCurrentUser).Methods("GET")
	api.HandleFunc("/auth/password", authMiddleware.ChangePassword).Methods("PUT")

	// Everything below requires a session
	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)

	// Stats
	protected.HandleFunc("/stats", videoHandlers.GetStats).Methods("GET")

	// Subscription routes
	protected.HandleFunc("/subscriptions", subscriptionHandlers.GetSubscriptions).Methods("GET")
	protected.HandleFunc("/subscriptions", subscriptionHandlers.Subscribe).Methods("POST")
	protected.HandleFunc("/subscriptions/batch", subscriptionHandlers.SubscribeBatch).Methods("POST")
	protected.HandleFunc("/subscriptions/refresh", subscriptionHandlers.RefreshAll).Methods("POST")
	protected.HandleFunc("/subscriptions", subscriptionHandlers.UnsubscribeByIdentity).Methods("DELETE")
	protected.HandleFunc("/subscriptions/{id:[0-9]+}", subscriptionHandlers.GetSubscription).Methods("GET")
	protected.HandleFunc("/subscriptions/{id:[0-9]+}", subscriptionHandlers.UpdateSubscription).Methods("PATCH")
	protected.HandleFunc("/subscriptions/{id:[0-9]+}", subscriptionHandlers.Unsubscribe).Methods("DELETE")
	protected.HandleFunc("/subscriptions/{id:[0-9]+}/refresh", subscriptionHandlers.RefreshSubscription).Methods("POST")

	// Video routes
	protected.HandleFunc("/videos", videoHandlers.AddVideos).Methods("POST")
	protected.HandleFunc("/videos/{id:[0-9]+}", videoHandlers.GetVideo).Methods("GET")
	protected.HandleFunc("/videos/{id:[0-9]+}/placement", videoHandlers.PlaceVideo).Methods("PUT")
	protected.HandleFunc("/videos/{id:[0-9]+}/watched", videoHandlers.MarkWatched).Methods("PUT")
	protected.HandleFunc("/chapters/{id:[0-9]+}/active", videoHandlers.SetChapterActive).Methods("PUT")

	// Inbox routes
	protected.HandleFunc("/inbox", videoHandlers.GetInbox).Methods("GET")
	protected.HandleFunc("/inbox", videoHandlers.ClearInbox).Methods("DELETE")

	// Queue routes
	protected.HandleFunc("/queue", videoHandlers.GetQueue).Methods("GET")
	protected.HandleFunc("/queue", videoHandlers.QueueInsert).Methods("POST")
	protected.HandleFunc("/queue/move", videoHandlers.QueueMove).Methods("PUT")
	protected.HandleFunc("/queue/{id:[0-9]+}", videoHandlers.QueueRemove).Methods("DELETE")

	// History
	protected.HandleFunc("/history", videoHandlers.GetHistory).Methods("GET")

	// OPML routes
	protected.HandleFunc("/opml/import", opmlHandlers.ImportOPML).Methods("POST")
	protected.HandleFunc("/opml/export", opmlHandlers.ExportOPML).Methods("GET")

	// Static files and frontend
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir("static/"))))

	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		// SPA routing falls through to index.html
		http.ServeFile(w, r, "static/index.html")
	})

	setupCronJobs(videoService, authService)

	log.Infof("Server starting on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}

func setupCronJobs(videoService *services.VideoService, authService *services.AuthService) {
	c := cron.New()

	schedule := os.Getenv("POLL_SCHEDULE")
	if schedule == "" {
		schedule = "*/15 * * * *"
	}

	// Poll every subscription feed
	c.AddFunc(schedule, func() {
		log.Info("Starting scheduled feed poll...")
		count, err := videoService.LoadVideos(context.Background(), nil, models.PlacementDefault)
		if err != nil {
			log.Errorf("Scheduled poll failed: %v", err)
			return
		}
		log.Infof("Scheduled poll ingested %d videos", count)
	})

	// Cleanup watched videos and stale sessions daily at 2 AM
	c.AddFunc("0 2 * * *", func() {
		log.Info("Starting cleanup...")
		ctx := context.Background()
		if err := videoService.CleanupOldVideos(ctx, videoService.CleanupRetentionDays(ctx)); err != nil {
			log.Errorf("Failed to cleanup videos: %v", err)
		}
		if err := authService.CleanupExpiredSessions(); err != nil {
			log.Errorf("Failed to cleanup sessions: %v", err)
		}
	})

	c.Start()
	log.Info("Background jobs scheduled")
}
