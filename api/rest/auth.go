package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"questlog/cache"
	"questlog/config"
	mw "questlog/middleware"
	"questlog/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const sessionPrefix = "session:"

var (
	errBadCredentials = errors.New("invalid credentials")
	errAccountBanned  = errors.New("account banned")
)

// AuthHandler issues and revokes the journal sessions the Auth
// middleware checks. A session is one cache entry keyed by the token.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

type loginResponse struct {
	Token     string `json:"token"`
	AccountID int64  `json:"account_id"`
	GM        bool   `json:"gm"`
}

// Login handles POST /api/auth/login. An unknown username registers a
// fresh account, so first login and sign-up are the same request.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := h.authenticate(c, req)
	switch {
	case errors.Is(err, errBadCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case errors.Is(err, errAccountBanned):
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	case err != nil:
		h.logger.Error("login failed",
			zap.String("username", req.Username),
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := h.openSession(c.Request.Context(), acc.ID, acc.GM)
	if err != nil {
		h.logger.Error("session open failed",
			zap.Int64("account_id", acc.ID),
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Last-login bookkeeping is best-effort.
	_ = h.db.Model(acc).Updates(map[string]interface{}{
		"last_login_at": time.Now(),
		"last_login_ip": c.ClientIP(),
	})

	c.JSON(http.StatusOK, loginResponse{Token: token, AccountID: acc.ID, GM: acc.GM})
}

// authenticate resolves the login to an account, creating one when the
// username is free.
func (h *AuthHandler) authenticate(c *gin.Context, req loginRequest) (*model.Account, error) {
	var acc model.Account
	err := h.db.WithContext(c.Request.Context()).
		Where("username = ?", req.Username).First(&acc).Error
	if err == nil {
		if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
			return nil, errBadCredentials
		}
		if acc.Status == 0 {
			return nil, errAccountBanned
		}
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		return nil, err
	}
	acc = model.Account{
		Username:     req.Username,
		PasswordHash: string(hash),
		Status:       1,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&acc).Error; err != nil {
		// A concurrent first login for the same name lost the race;
		// read back the row it created and verify against that.
		if isUniqueViolation(err) {
			return h.authenticate(c, req)
		}
		return nil, err
	}
	h.logger.Info("account registered",
		zap.String("username", req.Username), zap.Int64("account_id", acc.ID))
	return &acc, nil
}

// openSession issues a token and records it so the Auth middleware and
// the SSE handshake both see the session.
func (h *AuthHandler) openSession(ctx context.Context, accountID int64, gm bool) (string, error) {
	token, err := mw.GenerateToken(accountID, gm, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, sessionPrefix+token, strconv.FormatInt(accountID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

func (h *AuthHandler) dropSession(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Del(ctx, sessionPrefix+token); err != nil {
		h.logger.Warn("session drop failed", zap.Error(err))
	}
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	h.dropSession(c.Request.Context(), token)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old session dies with the
// rotation; exactly one token is live per refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.dropSession(c.Request.Context(), bearerToken(c))

	token, err := h.openSession(c.Request.Context(), accountID, mw.IsGM(c))
	if err != nil {
		h.logger.Error("session rotation failed",
			zap.Int64("account_id", accountID),
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func bearerToken(c *gin.Context) string {
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// isUniqueViolation detects duplicate-key errors across the sqlite and
// mysql drivers, which report them with different error types.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
