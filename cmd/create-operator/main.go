package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository/postgres"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run cmd/create-operator/main.go <operator-name> <api-key>")
		fmt.Println("Example: go run cmd/create-operator/main.go \"Checkout Service\" \"checkout-key-12345\"")
		os.Exit(1)
	}

	operatorName := os.Args[1]
	apiKey := os.Args[2]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Connect to database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(context.Background(), db); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to migrate database: %v\n", err)
		os.Exit(1)
	}

	// Hash the API key
	apiKeyHash, err := bcrypt.GenerateFromPassword([]byte(apiKey), cfg.API.KeyHashCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash API key: %v\n", err)
		os.Exit(1)
	}

	repos := postgres.NewRepositories(db, logger)

	operator := &domain.Operator{
		Name:       operatorName,
		APIKeyHash: string(apiKeyHash),
		IsActive:   true,
	}
	if err := repos.Operator.Create(context.Background(), operator); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create operator: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Operator created\n\n")
	fmt.Printf("Operator ID:   %s\n", operator.ID.String())
	fmt.Printf("Operator Name: %s\n", operator.Name)
	fmt.Printf("API Key:       %s\n", apiKey)
	fmt.Printf("\nSave this API key now; only its hash is stored.\n")
	fmt.Printf("\nUse it in the Authorization header:\n")
	fmt.Printf("Authorization: Bearer %s\n", apiKey)
}
