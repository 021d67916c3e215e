package server

import (
	"backend-pushupcounter/internal/auth"
	"backend-pushupcounter/internal/config"
	"backend-pushupcounter/internal/db"
	"backend-pushupcounter/internal/events"
	"backend-pushupcounter/internal/storage"
	"backend-pushupcounter/internal/stream"
	"backend-pushupcounter/internal/workout"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

const unlimitedBody = 1 << 30

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      db.Querier
	Redis   *redis.Client
	Stream  *stream.Hub
	Storage *storage.Service
	Workout *workout.Service
}

func NewServer(cfg config.Config, database db.Querier, redisClient *redis.Client, publisher events.Publisher, runner workout.Runner) *Server {
	bodyLimit := int(cfg.MaxUploadBytes())
	if bodyLimit <= 0 {
		bodyLimit = unlimitedBody
	}

	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	hub := stream.NewHub(redisClient)
	store := storage.NewService(database, cfg.OutputDir)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      database,
		Redis:   redisClient,
		Stream:  hub,
		Storage: store,
		Workout: workout.NewService(database, redisClient, hub, publisher, store, runner, workout.Options{
			BaseURL:        cfg.PublicBaseURL,
			CacheTTL:       cfg.SessionCacheTTL,
			MaxUploadBytes: cfg.MaxUploadBytes(),
		}),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMiddleware := auth.Middleware(s.Cfg.JWTSecret)

	workout.RegisterRoutes(s.App, s.Workout, authMiddleware)
	storage.RegisterRoutes(s.App, s.Storage)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// Close stops background relays owned by the server.
func (s *Server) Close() {
	s.Stream.Close()
}
