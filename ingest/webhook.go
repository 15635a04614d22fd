package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"adbudget/domain"
	"adbudget/logger"
	"adbudget/store"
)

// webhookPayload is the wire shape POSTed by ad platforms (or their
// intermediary reporting systems) for out-of-cycle metric hints.
type webhookPayload struct {
	ArmKey      string    `json:"arm_key"`
	TS          time.Time `json:"ts"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	Cost        float64   `json:"cost"`
	Revenue     float64   `json:"revenue"`
}

// ArmResolver maps a platform-reported arm_key to a local arm_id.
type ArmResolver func(armKey string) (uint64, bool)

// WebhookServer exposes POST /webhook/:platform, verifying an
// HMAC-SHA256 signature per platform secret before accepting a payload.
// Webhook metrics are always a hint: RecordMetric stores them under
// domain.SourceWebhook, a composite key distinct from the platform's
// poll-sourced row for the same window, so a later authoritative poll
// never loses to a webhook's value (Open Question #2).
type WebhookServer struct {
	router  *gin.Engine
	metrics *store.MetricStore
	scorer  *AnomalyScorer
	resolve ArmResolver
	secrets map[string]string // platform name -> HMAC secret

	httpServer *http.Server
	port       int

	// NotifyFn, if set, is called after a webhook metric is accepted, so
	// the scheduler can trigger an out-of-cycle re-evaluation.
	NotifyFn func(armID uint64, m domain.Metric)
}

// NewWebhookServer constructs the webhook HTTP surface.
func NewWebhookServer(metrics *store.MetricStore, scorer *AnomalyScorer, resolve ArmResolver, secrets map[string]string, port int) *WebhookServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	ws := &WebhookServer{
		router:  router,
		metrics: metrics,
		scorer:  scorer,
		resolve: resolve,
		secrets: secrets,
		port:    port,
	}
	ws.setupRoutes()
	return ws
}

func (ws *WebhookServer) setupRoutes() {
	ws.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	ws.router.POST("/webhook/:platform", ws.handleWebhook)
}

func (ws *WebhookServer) handleWebhook(c *gin.Context) {
	platformName := c.Param("platform")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	secret, known := ws.secrets[platformName]
	if !known || secret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown platform"})
		return
	}
	if !verifySignature(secret, raw, c.GetHeader("X-Signature")) {
		logger.Warnf("⚠️ webhook %s: signature verification failed", platformName)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	armID, ok := ws.resolve(payload.ArmKey)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown arm_key"})
		return
	}

	m := domain.Metric{
		ArmID:       armID,
		TS:          payload.TS,
		Impressions: payload.Impressions,
		Clicks:      payload.Clicks,
		Conversions: payload.Conversions,
		Cost:        payload.Cost,
		Revenue:     payload.Revenue,
		Source:      domain.SourceWebhook,
		Quality:     domain.QualityOK,
	}
	if err := domain.ValidateMetric(m); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if ws.scorer != nil {
		m.Quality = ws.scorer.Score(m)
	}

	result, err := ws.metrics.RecordMetric(m)
	if err != nil {
		logger.Errorf("[webhook] record metric for arm %d: %v", armID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record metric"})
		return
	}

	if result != store.DuplicateIgnored && ws.NotifyFn != nil {
		ws.NotifyFn(armID, m)
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "duplicate": result == store.DuplicateIgnored})
}

func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Start runs the webhook HTTP server until Shutdown is called.
func (ws *WebhookServer) Start() error {
	addr := fmt.Sprintf(":%d", ws.port)
	logger.Infof("🌐 webhook server starting at http://localhost%s", addr)
	ws.httpServer = &http.Server{Addr: addr, Handler: ws.router}
	err := ws.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the webhook server.
func (ws *WebhookServer) Shutdown(ctx context.Context) error {
	if ws.httpServer == nil {
		return nil
	}
	return ws.httpServer.Shutdown(ctx)
}
