package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultLoginURL = "https://apiconnect.angelbroking.com/rest/auth/angelbroking/user/v1/loginByPassword"

// AuthConfig carries the login credentials and the client headers the REST API requires.
type AuthConfig struct {
	LoginURL       string
	ClientCode     string
	PIN            string
	TOTP           string
	APIKey         string
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
	Timeout        time.Duration
}

type LoginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JwtToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Session holds the tokens a successful login returns.
type Session struct {
	JwtToken  string
	FeedToken string
}

func Authenticate(ctx context.Context, cfg AuthConfig) (Session, error) {
	url := cfg.LoginURL
	if url == "" {
		url = DefaultLoginURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	payload := map[string]string{
		"clientcode": cfg.ClientCode,
		"password":   cfg.PIN,
		"totp":       cfg.TOTP,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", cfg.ClientLocalIP)
	req.Header.Set("X-ClientPublicIP", cfg.ClientPublicIP)
	req.Header.Set("X-MACAddress", cfg.MACAddress)
	req.Header.Set("X-PrivateKey", cfg.APIKey)

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("authentication failed: http status %d", resp.StatusCode)
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return Session{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if !loginResp.Status {
		return Session{}, fmt.Errorf("authentication failed: %s (%s)", loginResp.Message, loginResp.ErrorCode)
	}
	if loginResp.Data.JwtToken == "" || loginResp.Data.FeedToken == "" {
		return Session{}, fmt.Errorf("authentication failed: response carries no tokens")
	}

	return Session{JwtToken: loginResp.Data.JwtToken, FeedToken: loginResp.Data.FeedToken}, nil
}
