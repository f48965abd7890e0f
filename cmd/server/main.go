package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/distributo/api/configs"
	"github.com/distributo/api/internal/api/handlers"
	"github.com/distributo/api/internal/api/middleware"
	job "github.com/distributo/api/internal/jobs"
	"github.com/distributo/api/internal/queue"
	"github.com/distributo/api/internal/repository"
	"github.com/distributo/api/internal/scheduler"
	"github.com/distributo/api/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	if err := runMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	xOAuthService := service.NewXOAuthService(*cfg, accountRepo)
	tokenService := service.NewTokenService(*cfg, accountRepo)
	publisher := service.NewXPublisher()
	postService := service.NewPostService(postRepo, accountRepo, tokenService, publisher)
	platformService := service.NewPlatformService(accountRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)
	waitlistService := service.NewWaitlistService(waitlistRepo)

	sched := scheduler.New(postRepo, accountRepo, historyRepo, tokenService, publisher)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platform := handlers.NewPlatformHandler(platformService, xOAuthService, *cfg)
	app.Get("/auth/x", platform.ConnectX)
	app.Get("/auth/x/callback", platform.CallbackX)

	cronHandler := handlers.NewCronHandler(*cfg, sched)
	app.Get("/cron/post-scheduled", cronHandler.PostScheduled)
	app.Post("/cron/post-scheduled", cronHandler.PostScheduled)
	app.Head("/cron/post-scheduled", cronHandler.Liveness)

	waitlist := handlers.NewWaitlistHandler(waitlistService)
	app.Post("/api/waitlist", waitlist.Join)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)
	api.Post("/posts/x/publish", post.PublishX)

	api.Get("/accounts", platform.ListAccounts)
	api.Post("/accounts/remove", platform.DisconnectAccount)

	// cron jobs: the periodic sweep and the proactive token refresh
	refreshTokenJob := job.NewTokenRefreshJob(accountRepo, tokenService)

	c := cron.New()
	c.AddFunc(cfg.SweepSchedule, func() { sched.Sweep(context.Background()) })
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	// fast-path publish queue
	queueW := queue.NewQueue(sched)

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
