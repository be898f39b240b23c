package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/finadmin/backend/docs"
	"github.com/finadmin/backend/internal/adapters"
	"github.com/finadmin/backend/internal/config"
	"github.com/finadmin/backend/internal/database"
	"github.com/finadmin/backend/internal/events"
	"github.com/finadmin/backend/internal/events/kafka"
	mW "github.com/finadmin/backend/internal/middleware"
	"github.com/finadmin/backend/internal/scheduler"
	"github.com/finadmin/backend/internal/services"
)

// @title Financial Administration Backend API
// @version 1.0
// @description Balance reconciliation and income/expense reporting for organ deposits
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("rahkaran.base_url", "RAHKARAN_BASE_URL")
	viper.BindEnv("rahkaran.username", "RAHKARAN_USERNAME")
	viper.BindEnv("rahkaran.password", "RAHKARAN_PASSWORD")

	viper.BindEnv("bankapi.base_url", "BANKAPI_BASE_URL")
	viper.BindEnv("bankapi.api_key", "BANKAPI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Financial Administration Backend API"
	docs.SwaggerInfo.Description = "Balance reconciliation and income/expense reporting for organ deposits"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher
	if brokers := viper.GetStringSlice("kafka.brokers"); len(brokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(brokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Printf("Kafka publisher connected to %v", brokers)
	} else {
		log.Println("No Kafka brokers configured, snapshot events disabled")
	}

	snapshotStore := services.NewSnapshotStore(db)
	reconcileService := services.NewReconcileService(db, snapshotStore, publisher, redisClient)
	reportService := services.NewReportService(db, snapshotStore, redisClient)
	depositService := services.NewDepositService(db, snapshotStore, redisClient)
	allocationService := services.NewAllocationService(db, reportService)

	// Periodic balance fetches
	sched := scheduler.New(
		config.LoadSchedulerConfig(),
		depositService,
		reconcileService,
		adapters.NewRahkaranClient(),
		adapters.NewBankAPIClient(),
	)
	sched.Start()
	defer sched.Stop()

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/organs", depositService.ListOrgans)
		r.Get("/organs/{organId}/deposits", depositService.ListOrganDeposits)
		r.Get("/deposits/{depositId}/balance", depositService.GetDepositBalance)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Monthly and yearly reports
			r.Get("/deposits/{depositId}/reports/monthly", reportService.GetDepositMonthlyReport)
			r.Get("/deposits/{depositId}/reports/yearly", reportService.GetDepositYearlyReport)
			r.Get("/organs/{organId}/reports/monthly", reportService.GetOrganMonthlyReport)
			r.Get("/organs/{organId}/reports/yearly", reportService.GetOrganYearlyReport)
			r.Get("/reports/monthly", reportService.GetAllOrgansMonthlyReport)

			// Allocation plans
			r.Get("/organs/{organId}/allocations/{year}", allocationService.GetAllocation)
			r.Put("/organs/{organId}/allocations/{year}", allocationService.UpsertAllocation)
			r.Get("/organs/{organId}/allocations/{year}/comparison", allocationService.GetComparison)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
