package services

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// GatewayVerifier is the boundary to the external payment gateway. The
// engine only records payment outcomes; how a transfer was verified is the
// gateway's business. Tests substitute their own implementation.
type GatewayVerifier interface {
	VerifySignature(referenceID, status, signature string) bool
	CheckStatus(referenceID string) (string, error)
}

// GatewayService talks to the payment gateway's status API and verifies
// callback signatures (sha512 over reference ID, status and server key).
type GatewayService struct {
	ServerKey  string
	BaseURL    string
	httpClient *http.Client
}

var (
	gatewayService *GatewayService
	gatewayOnce    sync.Once
)

// GetGatewayService returns the singleton gateway client configured from the
// environment.
func GetGatewayService() *GatewayService {
	gatewayOnce.Do(func() {
		gatewayService = &GatewayService{
			ServerKey: os.Getenv("GATEWAY_SERVER_KEY"),
			BaseURL:   os.Getenv("GATEWAY_BASE_URL"),
			httpClient: &http.Client{
				Timeout: 10 * time.Second,
			},
		}
	})
	return gatewayService
}

// VerifySignature checks a callback signature. The gateway signs callbacks
// as sha512(reference_id + status + server_key).
func (g *GatewayService) VerifySignature(referenceID, status, signature string) bool {
	if g.ServerKey == "" {
		return false
	}
	hash := sha512.Sum512([]byte(referenceID + status + g.ServerKey))
	return hex.EncodeToString(hash[:]) == signature
}

// CheckStatus asks the gateway for the current transaction status of a
// settlement reference.
func (g *GatewayService) CheckStatus(referenceID string) (string, error) {
	url := fmt.Sprintf("%s/v2/%s/status", g.BaseURL, referenceID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.ServerKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to check transaction status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var body struct {
		TransactionStatus string `json:"transaction_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return body.TransactionStatus, nil
}
