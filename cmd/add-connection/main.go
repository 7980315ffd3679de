package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	jwtpkg "replyhub/backend/internal/auth/jwt"
	"replyhub/backend/internal/config"
	"replyhub/backend/internal/security"
	"replyhub/backend/internal/service"
	sqlstore "replyhub/backend/internal/storage/sql"
)

// main 保存一条加密的平台连接，并为该用户签发访问令牌，便于首次调用管理 API。
func main() {
	userID := flag.String("user", "", "用户 ID，留空自动生成")
	platform := flag.String("platform", "", "平台: INSTANTLY 或 PLUSVIBE")
	apiKey := flag.String("api-key", "", "平台 API Key")
	workspaceID := flag.String("workspace", "", "平台侧 workspace ID（PlusVibe 必填）")
	name := flag.String("name", "", "连接名称")
	flag.Parse()

	if *platform == "" || *apiKey == "" {
		fmt.Println("Usage: add-connection -platform=INSTANTLY -api-key=<key> [-user=<id>] [-workspace=<id>] [-name=<name>]")
		os.Exit(1)
	}
	if *userID == "" {
		*userID = uuid.New().String()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" {
		fmt.Println("A database is required: set REPLYHUB_DATABASE_TYPE and REPLYHUB_DATABASE_DSN")
		os.Exit(1)
	}
	if len(cfg.Security.CredentialKey) == 0 {
		fmt.Println("Credential key is required: set REPLYHUB_SECURITY_CREDENTIAL_KEY")
		os.Exit(1)
	}

	store, err := sqlstore.Open(&cfg.Database)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sealer, err := security.NewSealer(cfg.Security.CredentialKey)
	if err != nil {
		fmt.Printf("Failed to init credential sealer: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connections := service.NewConnectionService(store, sealer)
	conn, err := connections.Create(ctx, *userID, service.CreateConnectionInput{
		Platform:    *platform,
		APIKey:      *apiKey,
		WorkspaceID: *workspaceID,
		Name:        *name,
	})
	if err != nil {
		fmt.Printf("Failed to create connection: %v\n", err)
		os.Exit(1)
	}

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	token, err := tokens.IssueToken(*userID)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Connection created successfully!\n")
	fmt.Printf("  ID:        %s\n", conn.ID)
	fmt.Printf("  User:      %s\n", conn.UserID)
	fmt.Printf("  Platform:  %s\n", conn.Platform)
	fmt.Printf("  Name:      %s\n", conn.Name)
	if conn.WorkspaceID != "" {
		fmt.Printf("  Workspace: %s\n", conn.WorkspaceID)
	}
	fmt.Printf("\nAccess token (expires in %s):\n%s\n", cfg.JWT.AccessExpiry, token)
}
