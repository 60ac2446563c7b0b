package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/security"
)

const (
	tokenEnv      = "OPSGUARDIAN_TOKEN"
	clientTimeout = 2 * time.Minute
	cliSubject    = "cli"
)

var errNoCredentials = errors.New("no API token: pass --token, set " + tokenEnv + ", or configure auth.jwt_secret")

// apiClient talks to a running server's HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type clientFlags struct {
	server string
	token  string
}

// newAPIClient resolves the server address and credentials. Without an
// explicit token, one is minted from the shared JWT secret in the config.
func newAPIClient(cfg *config.Config, flags clientFlags) (*apiClient, error) {
	base := flags.server
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	tok := flags.token
	if tok == "" {
		tok = os.Getenv(tokenEnv)
	}
	if tok == "" {
		if cfg.Auth.JWTSecret == "" {
			return nil, errNoCredentials
		}
		var err error
		tok, err = security.GenerateToken(cliSubject, security.RoleOperator, []byte(cfg.Auth.JWTSecret), 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
	}

	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: tok,
		http:  &http.Client{Timeout: clientTimeout},
	}, nil
}

// do sends body as JSON and decodes a JSON reply into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
