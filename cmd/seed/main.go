// Command seed creates a study session for a user and prints a bearer token,
// for local testing with chatctl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"learnmate/internal/config"
	"learnmate/internal/infra/api"
	pg "learnmate/internal/infra/db/postgres"
	"learnmate/internal/infra/logging"
	"learnmate/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "demo-user", "user id (token subject)")
	name := flag.String("name", "Linear algebra", "session name")
	field := flag.String("field", "Mathematics", "field of study")
	goal := flag.String("goal", "Pass the final exam", "study goal")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	sessions := usecase.NewSessionUseCase(pg.NewStudySessionRepo(pool), logger)
	ss, err := sessions.Create(ctx, *userID, usecase.CreateSessionInput{
		Name:         *name,
		FieldOfStudy: *field,
		StudyGoal:    *goal,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create session")
	}

	token, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, false).Mint(*userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}

	fmt.Printf("export LEARNMATE_SESSION=%s\n", ss.ID)
	fmt.Printf("export LEARNMATE_TOKEN=%s\n", token)
}
