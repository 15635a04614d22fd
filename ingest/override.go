package ingest

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"

	"adbudget/domain"
	"adbudget/logger"
	"adbudget/store"
)

// OverrideClaims is the JWT payload for an authenticated analyst session,
// grounded on the teacher's auth.Claims (stripped of the multi-user
// email/password machinery this single-operator surface doesn't need).
type OverrideClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// OverrideServer exposes the analyst override surface: OTP-gated login,
// then JWT-bearer-protected endpoints to pause/resume campaigns and
// disable/enable or re-bid arms. Overrides write straight to the campaign
// and arm stores; they are not appended to the change log.
type OverrideServer struct {
	router *gin.Engine

	jwtSecret []byte
	otpSecret string

	campaigns *store.CampaignStore
	arms      *store.ArmStore
	changes   *store.ChangeStore
}

// NewOverrideServer constructs the override HTTP surface. otpSecret is
// the operator's shared TOTP secret (provisioned once out of band).
func NewOverrideServer(jwtSecret, otpSecret string, campaigns *store.CampaignStore, arms *store.ArmStore, changes *store.ChangeStore) *OverrideServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	os := &OverrideServer{
		router:    router,
		jwtSecret: []byte(jwtSecret),
		otpSecret: otpSecret,
		campaigns: campaigns,
		arms:      arms,
		changes:   changes,
	}
	os.setupRoutes()
	return os
}

func (os *OverrideServer) setupRoutes() {
	os.router.POST("/override/login", os.handleLogin)

	protected := os.router.Group("/override")
	protected.Use(os.authMiddleware())
	{
		protected.POST("/campaigns/:id/pause", os.handlePauseCampaign)
		protected.POST("/campaigns/:id/resume", os.handleResumeCampaign)
		protected.POST("/arms/:id/disable", os.handleDisableArm)
		protected.POST("/arms/:id/enable", os.handleEnableArm)
		protected.POST("/arms/:id/bid", os.handleSetBid)
	}
}

func (os *OverrideServer) handleLogin(c *gin.Context) {
	var req struct {
		OTPCode string `json:"otp_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	if !totp.Validate(req.OTPCode, os.otpSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid OTP code"})
		return
	}

	claims := OverrideClaims{
		Operator: "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(os.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

func (os *OverrideServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		token, err := jwt.ParseWithClaims(parts[1], &OverrideClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return os.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			logger.Warnf("⚠️ override: invalid token: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (os *OverrideServer) handlePauseCampaign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := os.campaigns.SetStatus(id, domain.StatusPaused); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause campaign"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (os *OverrideServer) handleResumeCampaign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := os.campaigns.SetStatus(id, domain.StatusActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume campaign"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (os *OverrideServer) handleDisableArm(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := os.arms.SetDisabled(id, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disable arm"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

func (os *OverrideServer) handleEnableArm(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := os.arms.SetDisabled(id, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enable arm"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled"})
}

func (os *OverrideServer) handleSetBid(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Bid float64 `json:"bid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Bid < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid"})
		return
	}
	if err := os.arms.SetBid(id, req.Bid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set bid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "bid": req.Bid})
}

// Handler exposes the gin router so main.go can serve it from its own
// http.Server, on the port after the webhook server's.
func (os *OverrideServer) Handler() http.Handler {
	return os.router
}
