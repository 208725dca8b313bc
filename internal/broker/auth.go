package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// tokenLifetime is slightly under the gateway's 24h token validity so a
// refresh always happens before expiry.
const tokenLifetime = 23 * time.Hour

// AuthSession owns the gateway session token, its expiry and the refresh
// mutex. Concurrent callers never double-authenticate.
type AuthSession struct {
	mu         sync.Mutex
	token      string
	expiry     time.Time
	baseURL    string
	userName   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewAuthSession creates a session for the given credentials. No network
// call is made until the first Token request.
func NewAuthSession(baseURL, userName, apiKey string, timeout time.Duration, logger *zap.SugaredLogger) *AuthSession {
	return &AuthSession{
		baseURL:    baseURL,
		userName:   userName,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Token returns a valid session token, authenticating or re-authenticating
// as needed.
func (a *AuthSession) Token() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.expiry) {
		return a.token, nil
	}
	if err := a.authenticate(); err != nil {
		return "", err
	}
	return a.token, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (a *AuthSession) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
}

// authenticate performs the key-based login. Caller must hold a.mu.
func (a *AuthSession) authenticate() error {
	a.logger.Info("Authenticating to broker gateway...")

	payload, err := json.Marshal(map[string]string{
		"userName": a.userName,
		"apiKey":   a.apiKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/api/Auth/loginKey", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed, status: %d, response: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}
	if !result.Success || result.Token == "" {
		return fmt.Errorf("auth rejected by gateway: %s", string(body))
	}

	a.token = result.Token
	a.expiry = time.Now().Add(tokenLifetime)
	a.logger.Infow("Authentication successful", "expires", a.expiry.Format(time.RFC3339))
	return nil
}
