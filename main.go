package main

import (
	"context"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quillnotes/quill-server/auth"
	"github.com/quillnotes/quill-server/config"
	httphandlers "github.com/quillnotes/quill-server/http"
	"github.com/quillnotes/quill-server/porter"
	"github.com/quillnotes/quill-server/store"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	authSvc := auth.NewService(st)
	engine := porter.New(st, log)
	server := httphandlers.NewServer(st, engine, authSvc, log)

	app := fiber.New(fiber.Config{
		AppName:      "quill-server",
		BodyLimit:    64 << 20, // archives and backups arrive as one body
		ErrorHandler: httphandlers.ErrorHandler,
	})
	app.Use(cors.New())
	server.Register(app)

	log.Info().Str("addr", cfg.Addr).Msg("server starting")
	if err := app.Listen(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
