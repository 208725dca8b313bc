package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

// ProjectXBroker implements the Broker interface against the ProjectX REST
// gateway used by prop-firm futures accounts.
type ProjectXBroker struct {
	baseURL    string
	auth       *AuthSession
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewProjectXBroker creates a broker client sharing the given auth session.
func NewProjectXBroker(baseURL string, auth *AuthSession, timeout time.Duration, logger *zap.SugaredLogger) *ProjectXBroker {
	return &ProjectXBroker{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// post sends a JSON payload to the gateway with a bearer token and decodes
// the response into out. A structured gateway error is returned as
// *models.APIError.
func (b *ProjectXBroker) post(path string, payload interface{}, out interface{}) error {
	token, err := b.auth.Token()
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", path, err)
	}

	req, err := http.NewRequest(http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	b.logger.Debugw("POST", "path", path, "payload", string(data))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Stale token; next call re-authenticates.
		b.auth.Invalidate()
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		b.logger.Warnw("Rate limit hit", "path", path, "response", string(body))
	}

	var apiErr models.APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != 0 {
		return &apiErr
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed, status: %d, response: %s", path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
	}
	return nil
}

type orderRequest struct {
	AccountID  int      `json:"accountId"`
	ContractID string   `json:"contractId"`
	Type       int      `json:"type"`
	Side       int      `json:"side"`
	Size       int      `json:"size"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
	StopPrice  *float64 `json:"stopPrice,omitempty"`
}

// PlaceMarket submits a market order.
func (b *ProjectXBroker) PlaceMarket(accountID int, contractID string, side, size int) (*models.OrderResult, error) {
	b.logger.Infow("Placing market order", "account", accountID, "contract", contractID, "side", side, "size", size)
	var result models.OrderResult
	err := b.post("/api/Order/place", orderRequest{
		AccountID:  accountID,
		ContractID: contractID,
		Type:       models.OrderTypeMarket,
		Side:       side,
		Size:       size,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PlaceLimit submits a limit order.
func (b *ProjectXBroker) PlaceLimit(accountID int, contractID string, side, size int, price float64) (*models.OrderResult, error) {
	b.logger.Infow("Placing limit order", "account", accountID, "contract", contractID, "side", side, "size", size, "price", price)
	var result models.OrderResult
	err := b.post("/api/Order/place", orderRequest{
		AccountID:  accountID,
		ContractID: contractID,
		Type:       models.OrderTypeLimit,
		Side:       side,
		Size:       size,
		LimitPrice: &price,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PlaceStop submits a stop order.
func (b *ProjectXBroker) PlaceStop(accountID int, contractID string, side, size int, price float64) (*models.OrderResult, error) {
	b.logger.Infow("Placing stop order", "account", accountID, "contract", contractID, "side", side, "size", size, "price", price)
	var result models.OrderResult
	err := b.post("/api/Order/place", orderRequest{
		AccountID:  accountID,
		ContractID: contractID,
		Type:       models.OrderTypeStop,
		Side:       side,
		Size:       size,
		StopPrice:  &price,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels an open order. A gateway-reported failure is logged but not
// returned as an error.
func (b *ProjectXBroker) Cancel(accountID int, orderID int64) error {
	var result struct {
		Success bool `json:"success"`
	}
	err := b.post("/api/Order/cancel", map[string]interface{}{
		"accountId": accountID,
		"orderId":   orderID,
	}, &result)
	if err != nil {
		return err
	}
	if !result.Success {
		b.logger.Warnw("Cancel reported failure", "account", accountID, "orderId", orderID)
	}
	return nil
}

// SearchOpenOrders returns all open orders for the account.
func (b *ProjectXBroker) SearchOpenOrders(accountID int) ([]models.BrokerOrder, error) {
	var result struct {
		Orders []models.BrokerOrder `json:"orders"`
	}
	err := b.post("/api/Order/searchOpen", map[string]interface{}{"accountId": accountID}, &result)
	if err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// SearchPositions returns all open positions for the account.
func (b *ProjectXBroker) SearchPositions(accountID int) ([]models.BrokerPosition, error) {
	var result struct {
		Positions []models.BrokerPosition `json:"positions"`
	}
	err := b.post("/api/Position/searchOpen", map[string]interface{}{"accountId": accountID}, &result)
	if err != nil {
		return nil, err
	}
	return result.Positions, nil
}

// SearchTrades returns fills since the given time.
func (b *ProjectXBroker) SearchTrades(accountID int, since time.Time) ([]models.BrokerTrade, error) {
	var result struct {
		Trades []models.BrokerTrade `json:"trades"`
	}
	err := b.post("/api/Trade/search", map[string]interface{}{
		"accountId":      accountID,
		"startTimestamp": since.Format(time.RFC3339),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Trades, nil
}

// ClosePosition closes the position on a contract at market.
func (b *ProjectXBroker) ClosePosition(accountID int, contractID string) error {
	var result struct {
		Success bool `json:"success"`
	}
	err := b.post("/api/Position/closeContract", map[string]interface{}{
		"accountId":  accountID,
		"contractId": contractID,
	}, &result)
	if err != nil {
		return err
	}
	if !result.Success {
		b.logger.Warnw("Close position reported failure", "account", accountID, "contract", contractID)
	}
	return nil
}
