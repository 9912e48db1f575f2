package kucoinclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// apiResponse is the common KuCoin envelope. Code "200000" means success;
// anything else carries a venue error.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign computes the KC-API-SIGN header: base64(HMAC-SHA256(secret,
// timestamp + method + endpoint + body)).
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// doRequest issues one signed request and decodes the envelope. The raw
// data payload is returned alongside so callers can persist it verbatim.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payload := timestamp + method + endpoint + string(bodyBytes)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-KEY", c.apiKey)
	req.Header.Set("KC-API-SIGN", sign(c.secretKey, payload))
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", sign(c.secretKey, c.passphrase))
	req.Header.Set("KC-API-KEY-VERSION", "2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("kucoin throttled request: %w", ports.ErrRateLimited)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode kucoin response: %w", err)
	}
	if envelope.Code != "200000" {
		return nil, c.mapVenueError(envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}

// mapVenueError translates KuCoin error codes into standardized ports errors.
func (c *Client) mapVenueError(code, msg string) error {
	var mapped error
	switch code {
	case "400100", "404000":
		mapped = ports.ErrInvalidRequest
	case "400003", "400004", "400005", "400006", "411100":
		mapped = ports.ErrInvalidAPIKeys
	case "300003", "300018":
		mapped = ports.ErrInsufficientMargin
	case "100004", "300009":
		mapped = ports.ErrOrderNotFound
	case "429000":
		mapped = ports.ErrRateLimited
	default:
		mapped = ports.ErrUnknown
	}
	return fmt.Errorf("kucoin error %s: %s: %w", code, msg, mapped)
}
