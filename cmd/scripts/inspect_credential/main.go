package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/internal/utils"
)

func main() {
	username := flag.String("username", "", "credential owner to inspect")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	if *username == "" {
		log.Fatal("-username is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := models.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	cipher, err := utils.NewTokenCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}

	store := services.NewCredentialStore(repository.NewGormCredentialRepository(db))
	manager := services.NewTokenManager(store, cipher, services.NewHubSpotClient(cfg.OAuth, cfg.CRM), cfg.OAuth)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cred, err := manager.GetDecrypted(ctx, *username)
	if err != nil {
		log.Fatalf("Failed to read credential: %v", err)
	}

	fmt.Printf("%-14s %s\n", "Username", cred.Username)
	fmt.Printf("%-14s %s\n", "Access token", utils.MaskToken(cred.AccessToken))
	fmt.Printf("%-14s %s\n", "Refresh token", utils.MaskToken(cred.RefreshToken))
	fmt.Printf("%-14s %s\n", "Issued at", cred.IssuedAt.Format(time.RFC3339))
	fmt.Printf("%-14s %s\n", "Expires at", cred.ExpiresAt.Format(time.RFC3339))
	if cred.RefreshedAt != nil {
		fmt.Printf("%-14s %s\n", "Refreshed at", cred.RefreshedAt.Format(time.RFC3339))
	}
	fmt.Printf("%-14s %v\n", "Expired", cred.Expired)
}
