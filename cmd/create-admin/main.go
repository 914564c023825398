package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/logger"
)

func main() {
	var email, password, name string
	flag.StringVar(&email, "email", "", "admin email address")
	flag.StringVar(&password, "password", "", "admin password (min 6 characters)")
	flag.StringVar(&name, "name", "Administrator", "admin display name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := service.BootstrapAdmin(ctx, repository.NewUserRepository(db), nil, service.BootstrapAdminRequest{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to create admin", "email", email, "error", err)
	}
	logr.Sugar().Infow("admin ready", "id", user.ID, "email", user.Email)
}
