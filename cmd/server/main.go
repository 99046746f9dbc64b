package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/application/services"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/bootstrap"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/adapters"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/database"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/persistence"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/interfaces/middleware"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/interfaces/rest"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/expression"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	ctx := context.Background()
	records := persistence.NewRecordRepository(db.DB())
	traces := persistence.NewTraceRepository(db.DB())
	workflows := persistence.NewWorkflowRepository(db.DB())
	for name, ensure := range map[string]func(context.Context) error{
		"records":   records.EnsureSchema,
		"traces":    traces.EnsureSchema,
		"workflows": workflows.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			log.Fatalf("Failed to initialize %s schema: %v", name, err)
		}
	}

	if err := bootstrap.InitializeWorkflows(ctx, workflows); err != nil {
		log.Fatalf("Failed to initialize workflows: %v", err)
	}

	service := services.NewWorkflowService(
		records,
		workflows,
		expression.NewEngine(),
		adapters.NewRoleDirectory(),
		adapters.LogMessageSender{},
		services.NewTraceRecorder(traces),
		errors.NewRecorder(),
	)
	scheduler := services.NewSchedulerService(service, workflows, records)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Println("🔧 Workflow services initialized")

	router := gin.Default()
	router.Use(middleware.Cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	api := router.Group("/api")
	rest.NewWorkflowHandler(service, records, traces).RegisterRoutes(api)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Server listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🔄 Shutting down...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Forced shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("⚠️ Failed to close database: %v", err)
	}
	log.Println("✅ Server stopped")
}
