package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/forgehq/forge/internal/models"
)

// WebhookClaims identifies the task a callback describes, signed so the
// receiving endpoint can verify the notification actually came from
// this orchestrator. Grounded on the teacher's auth.JWTService/Claims
// shape (internal/auth/jwt.go), repurposed from user session tokens to
// task-completion callback authentication.
type WebhookClaims struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`
	jwt.RegisteredClaims
}

// WebhookNotifier posts a signed callback to a fixed URL whenever a
// task this orchestrator manages resolves.
type WebhookNotifier struct {
	secret []byte
	url    string
	client *http.Client
	expiry time.Duration
}

// NewWebhookNotifier builds a notifier signing callbacks with secret
// and posting them to url. A zero expiry defaults to 5 minutes.
func NewWebhookNotifier(url, secret string, expiry time.Duration) *WebhookNotifier {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &WebhookNotifier{
		secret: []byte(secret),
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		expiry: expiry,
	}
}

// webhookPayload is the body posted alongside the signed token, giving
// the receiver the full result without a callback round-trip to
// GetTaskResult.
type webhookPayload struct {
	Token  string             `json:"token"`
	Result *models.TaskResult `json:"result"`
}

// Notify signs a WebhookClaims for result and POSTs it as JSON.
func (n *WebhookNotifier) Notify(ctx context.Context, agentID string, result *models.TaskResult) error {
	if n == nil || n.url == "" {
		return nil
	}

	claims := WebhookClaims{
		TaskID:  result.TaskID,
		AgentID: agentID,
		Success: result.Success,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(n.expiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.secret)
	if err != nil {
		return fmt.Errorf("webhook: sign callback: %w", err)
	}

	body, err := json.Marshal(webhookPayload{Token: token, Result: result})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// VerifyClaims parses and validates a callback token previously issued
// by Notify, for use by a receiving endpoint built against the same
// shared secret.
func VerifyClaims(token, secret string) (*WebhookClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &WebhookClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(*WebhookClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("webhook: invalid token claims")
	}
	return claims, nil
}
