package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"freelancehub/internal/auth"
	"freelancehub/internal/database"
	"freelancehub/internal/marketplace"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// AuthHandler 处理邮箱登录、令牌刷新与退出。
type AuthHandler struct {
	users                  *marketplace.UserService
	authService            *auth.AuthService
	redis                  redis.UniversalClient
	logger                 *slog.Logger
	signInRateLimitPerHour int
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(users *marketplace.UserService, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, signInRateLimitPerHour int) *AuthHandler {
	return &AuthHandler{
		users:                  users,
		authService:            authService,
		redis:                  redisClient,
		logger:                 logger,
		signInRateLimitPerHour: signInRateLimitPerHour,
	}
}

type signInRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
}

type signInResponse struct {
	User          database.User `json:"user"`
	AccessToken   string        `json:"accessToken"`
	RefreshToken  string        `json:"refreshToken"`
	TokenType     string        `json:"tokenType"`
	ExpiresIn     int           `json:"expiresIn"`
	ProfileExists bool          `json:"profileExists"`
}

// SignIn 按邮箱登录，不存在时创建账号（201），已存在返回 200。
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "name and email are required")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := loggerFromContext(c, h.logger).With(slog.String("email", email))

	// 速率限制：每 IP+邮箱 每小时 N 次
	rateKey := "rate:signin:" + c.ClientIP() + ":" + email + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		logger.Warn("sign in rate counter unavailable", slog.Any("error", err))
		count = 0
	}
	if count > int64(h.signInRateLimitPerHour) {
		TooManyRequests(c)
		return
	}

	result, err := h.users.SignIn(ctx, req.Name, req.Email)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(result.User.ID)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	status, message := http.StatusOK, "Signed in"
	if result.Created {
		status, message = http.StatusCreated, "User created"
		logger.Info("user created", slog.String("user_id", result.User.ID))
	}

	h.setRefreshCookie(c, tokenPair.RefreshToken)
	OK(c, status, message, signInResponse{
		User:          result.User,
		AccessToken:   tokenPair.AccessToken,
		RefreshToken:  tokenPair.RefreshToken,
		TokenType:     "Bearer",
		ExpiresIn:     int(h.authService.AccessTokenTTL().Seconds()),
		ProfileExists: result.ProfileExists,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，旧令牌立即作废。
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	claims, key, ok := h.parseRefreshToken(c, logger, refreshToken)
	if !ok {
		return
	}

	// 旋转旧刷新令牌：SetNX 成功的请求才能换取新令牌，并发重放只有一个通过。
	claimed, err := h.redis.SetNX(ctx, key, "revoked", h.refreshTTL(claims.ExpiresAt)).Result()
	if err != nil {
		logger.Error("refresh token blacklist update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !claimed {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	}

	if _, err := h.users.Get(ctx, claims.UserID); err != nil {
		if errors.Is(err, marketplace.ErrNotFound) {
			logger.Info("refresh user not found", slog.String("user_id", claims.UserID))
			Unauthorized(c)
			return
		}
		h.releaseRefreshToken(ctx, logger, key)
		respondError(c, logger, err)
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(claims.UserID)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		h.releaseRefreshToken(ctx, logger, key)
		Internal(c, "internal error")
		return
	}

	h.setRefreshCookie(c, tokenPair.RefreshToken)
	OK(c, http.StatusOK, "Token refreshed", tokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.authService.AccessTokenTTL().Seconds()),
	})
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	claims, key, ok := h.parseRefreshToken(c, logger, refreshToken)
	if !ok {
		return
	}
	if userID, _ := userIDFromContext(c); userID != claims.UserID {
		Forbidden(c, "refresh token belongs to another user")
		return
	}

	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	OK(c, http.StatusOK, "Logged out", nil)
}

// Me 返回当前用户及其档案。
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	OK(c, http.StatusOK, "User fetched", user)
}

// parseRefreshToken 校验类型与 jti；失败时已写入 401 响应。
func (h *AuthHandler) parseRefreshToken(c *gin.Context, logger *slog.Logger, raw string) (*auth.TokenClaims, string, bool) {
	claims, err := h.authService.ValidateToken(raw)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return nil, "", false
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return nil, "", false
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		Unauthorized(c)
		return nil, "", false
	}
	return claims, refreshTokenBlacklistKeyPrefix + claims.ID, true
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	return h.redis.Set(ctx, key, "revoked", h.refreshTTL(expiresAt)).Err()
}

// releaseRefreshToken 在换发失败时撤回占用，允许客户端重试。
func (h *AuthHandler) releaseRefreshToken(ctx context.Context, logger *slog.Logger, key string) {
	if err := h.redis.Del(ctx, key).Err(); err != nil {
		logger.Warn("refresh token release failed", slog.Any("error", err))
	}
}

// refreshTTL 让黑名单条目与令牌同时过期。
func (h *AuthHandler) refreshTTL(expiresAt *jwt.NumericDate) time.Duration {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
