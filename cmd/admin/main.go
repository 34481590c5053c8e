package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"freelancehub/internal/auth"
	"freelancehub/internal/config"
	"freelancehub/internal/database"
	"freelancehub/internal/marketplace"
)

func main() {
	var (
		genKeys    = flag.String("gen-keys", "", "在指定目录生成 RS256 密钥对（private.pem / public.pem）后退出")
		keyBits    = flag.Int("key-bits", 2048, "RSA 密钥长度")
		email      = flag.String("email", "", "登录邮箱；不存在时创建用户")
		name       = flag.String("name", "", "新用户的姓名（仅创建时使用）")
		privateKey = flag.String("private-key", "", "JWT 私钥路径（可选，默认读 JWT_PRIVATE_KEY_PATH）")
		publicKey  = flag.String("public-key", "", "JWT 公钥路径（可选，默认读 JWT_PUBLIC_KEY_PATH）")
		migrate    = flag.Bool("migrate", false, "执行数据库迁移后退出")
		dbHost     = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort     = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName     = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser     = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass     = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode    = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()
	_ = godotenv.Load()

	if dir := strings.TrimSpace(*genKeys); dir != "" {
		if err := writeKeyPair(dir, *keyBits); err != nil {
			log.Fatalf("generate keys: %v", err)
		}
		fmt.Printf("已生成密钥对：%s\n", dir)
		return
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		fmt.Println("数据库迁移完成")
		return
	}

	e := strings.TrimSpace(*email)
	if e == "" {
		log.Fatal("missing required flag: --email")
	}
	n := strings.TrimSpace(*name)
	if n == "" {
		n = strings.SplitN(e, "@", 2)[0]
	}

	result, err := marketplace.NewUserService(db).SignIn(ctx, n, e)
	if err != nil {
		log.Fatalf("sign in: %v", err)
	}

	authService, err := auth.NewAuthServiceFromFiles(
		firstNonEmpty(*privateKey, os.Getenv("JWT_PRIVATE_KEY_PATH")),
		firstNonEmpty(*publicKey, os.Getenv("JWT_PUBLIC_KEY_PATH")),
		durationFromEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		durationFromEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour),
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	pair, err := authService.GenerateTokenPair(result.User.ID)
	if err != nil {
		log.Fatalf("generate token pair: %v", err)
	}

	if result.Created {
		fmt.Printf("已创建用户：%s <%s>\n", result.User.Name, result.User.Email)
	} else {
		fmt.Printf("用户已存在：%s <%s>\n", result.User.Name, result.User.Email)
	}
	fmt.Printf("用户 ID: %s\n", result.User.ID)
	fmt.Printf("Access Token: %s\n", pair.AccessToken)
	fmt.Printf("Refresh Token: %s\n", pair.RefreshToken)
}

func writeKeyPair(dir string, bits int) error {
	privatePEM, publicPEM, err := auth.GenerateKeyPEM(bits)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	privatePath := filepath.Join(dir, "private.pem")
	if _, err := os.Stat(privatePath); err == nil {
		return fmt.Errorf("%s already exists", privatePath)
	}
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "public.pem"), publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	name = firstNonEmpty(name, os.Getenv("POSTGRES_DB"))
	user = firstNonEmpty(user, os.Getenv("POSTGRES_USER"))
	password = firstNonEmpty(password, os.Getenv("POSTGRES_PASSWORD"))
	sslmode = firstNonEmpty(sslmode, os.Getenv("DATABASE_SSLMODE"), "disable")
	host = firstNonEmpty(host, "localhost")
	if port <= 0 {
		port = 5432
	}

	if name == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if user == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if password == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
