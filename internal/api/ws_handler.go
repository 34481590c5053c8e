package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"freelancehub/internal/auth"
	"freelancehub/internal/worker"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsTokenValidator interface {
	ValidateToken(tokenString string) (*auth.TokenClaims, error)
}

// WsHandler 负责 WebSocket 鉴权，并把用户的 Redis 通知频道转发给浏览器。
type WsHandler struct {
	redisClient    redis.UniversalClient
	validator      wsTokenValidator
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient redis.UniversalClient, validator wsTokenValidator, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		validator:      validator,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	return false
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection 升级连接，等待首帧鉴权后开始转发通知。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(slog.String("client_ip", c.ClientIP()))

	userIDCh := make(chan string, 1)
	errCh := make(chan error, 2)

	go h.readLoop(ctx, conn, userIDCh, errCh, cancel, baseLog)

	authTimer := time.NewTimer(wsAuthTimeout)
	defer authTimer.Stop()

	var userID string
	select {
	case <-ctx.Done():
		return
	case <-authTimer.C:
		writeClose(conn, websocket.ClosePolicyViolation, "auth timeout")
		baseLog.Info("websocket authentication timed out")
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket authentication failed", slog.Any("error", err))
		}
		return
	case userID = <-userIDCh:
	}

	userLog := baseLog.With(slog.String("user_id", userID))
	go h.subscribeLoop(ctx, conn, userID, errCh, cancel, userLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			userLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			userLog.Info("websocket connection closed")
		}
	}
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	userIDCh chan<- string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	authenticated := false
	fail := func(code int, text string, err error) {
		writeClose(conn, code, text)
		errCh <- err
		cancel()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			fail(websocket.CloseAbnormalClosure, "read error", fmt.Errorf("read message: %w", err))
			return
		}

		if authenticated {
			// 客户端无需发送后续消息，继续读取以感知断开。
			continue
		}

		var authMsg wsAuthMessage
		if err := json.Unmarshal(message, &authMsg); err != nil {
			fail(websocket.ClosePolicyViolation, "invalid auth payload", fmt.Errorf("decode auth payload: %w", err))
			return
		}
		if authMsg.Type != "auth" || authMsg.Token == "" {
			fail(websocket.ClosePolicyViolation, "auth required", errors.New("invalid auth message"))
			return
		}

		claims, err := h.validator.ValidateToken(authMsg.Token)
		if err != nil {
			fail(websocket.ClosePolicyViolation, "unauthorized", fmt.Errorf("validate token: %w", err))
			return
		}
		if claims.TokenType != auth.TokenTypeAccess {
			fail(websocket.ClosePolicyViolation, "access token required", fmt.Errorf("invalid token type: %s", claims.TokenType))
			return
		}

		authenticated = true
		userIDCh <- claims.UserID
		log.Info("websocket authenticated", slog.String("user_id", claims.UserID))
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	userID string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := worker.NotifyChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- errors.New("pubsub channel closed")
				cancel()
				return
			}

			log.Debug("forwarding message to client", slog.String("channel", channel))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
