package ingest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adbudget/domain"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhookServer(t *testing.T, secrets map[string]string, resolve ArmResolver) *WebhookServer {
	t.Helper()
	st := newTestStore(t)
	return NewWebhookServer(st.Metrics(), NewAnomalyScorer(3.0, 50), resolve, secrets, 0)
}

func postWebhook(ws *WebhookServer, platform string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+platform, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	ws.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptsValidSignedPayload(t *testing.T) {
	secret := "shh"
	resolve := func(armKey string) (uint64, bool) { return 7, armKey == "google_ads|search|v1|1.000000" }
	ws := newTestWebhookServer(t, map[string]string{"google_ads": secret}, resolve)

	body, _ := json.Marshal(webhookPayload{
		ArmKey: "google_ads|search|v1|1.000000", TS: time.Now().UTC(),
		Impressions: 100, Clicks: 10, Conversions: 1, Cost: 5, Revenue: 20,
	})
	rec := postWebhook(ws, "google_ads", body, sign(secret, body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s, want 202", rec.Code, rec.Body.String())
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	resolve := func(armKey string) (uint64, bool) { return 1, true }
	ws := newTestWebhookServer(t, map[string]string{"meta": "correct-secret"}, resolve)

	body, _ := json.Marshal(webhookPayload{ArmKey: "k", TS: time.Now().UTC()})
	rec := postWebhook(ws, "meta", body, sign("wrong-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a bad signature", rec.Code)
	}
}

func TestWebhookRejectsUnknownPlatform(t *testing.T) {
	ws := newTestWebhookServer(t, map[string]string{}, func(string) (uint64, bool) { return 0, false })
	body := []byte(`{}`)
	rec := postWebhook(ws, "unknown_platform", body, sign("anything", body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for an unconfigured platform", rec.Code)
	}
}

func TestWebhookRejectsUnresolvableArmKey(t *testing.T) {
	secret := "shh"
	ws := newTestWebhookServer(t, map[string]string{"meta": secret}, func(string) (uint64, bool) { return 0, false })

	body, _ := json.Marshal(webhookPayload{ArmKey: "unknown", TS: time.Now().UTC()})
	rec := postWebhook(ws, "meta", body, sign(secret, body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an unresolvable arm_key", rec.Code)
	}
}

func TestWebhookDuplicateIsIdempotentAndSkipsNotify(t *testing.T) {
	secret := "shh"
	resolve := func(string) (uint64, bool) { return 3, true }
	ws := newTestWebhookServer(t, map[string]string{"meta": secret}, resolve)

	var notifyCalls int
	ws.NotifyFn = func(armID uint64, m domain.Metric) { notifyCalls++ }

	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(webhookPayload{ArmKey: "k", TS: ts, Impressions: 100, Clicks: 10, Conversions: 1, Cost: 5, Revenue: 20})

	rec1 := postWebhook(ws, "meta", body, sign(secret, body))
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("first post status = %d, want 202", rec1.Code)
	}
	rec2 := postWebhook(ws, "meta", body, sign(secret, body))
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("second post status = %d, want 202", rec2.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec2.Body.Bytes(), &resp)
	if resp["duplicate"] != true {
		t.Errorf("second identical post must report duplicate=true, got %+v", resp)
	}
	if notifyCalls != 1 {
		t.Errorf("NotifyFn must fire once (not on the duplicate), got %d calls", notifyCalls)
	}
}

func TestWebhookRejectsInvalidMetric(t *testing.T) {
	secret := "shh"
	ws := newTestWebhookServer(t, map[string]string{"meta": secret}, func(string) (uint64, bool) { return 1, true })

	body, _ := json.Marshal(webhookPayload{ArmKey: "k", TS: time.Now().UTC(), Clicks: 100, Impressions: 10})
	rec := postWebhook(ws, "meta", body, sign(secret, body))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for clicks > impressions", rec.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	ws := newTestWebhookServer(t, map[string]string{}, func(string) (uint64, bool) { return 0, false })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ws.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
