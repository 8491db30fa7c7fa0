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
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/vinq/internal/config"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	token, err := loadToken(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL:    "http://" + clientAddr(cfg),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// clientAddr is the address a local client dials; a wildcard listen host is
// reached through loopback.
func clientAddr(cfg config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

func tokenFilePath(dataDir string) string {
	return filepath.Join(dataDir, "token")
}

// loadToken returns VINQ_TOKEN, else the token saved by `vinq login`, else "".
func loadToken(dataDir string) (string, error) {
	if t := os.Getenv("VINQ_TOKEN"); t != "" {
		return t, nil
	}
	data, err := os.ReadFile(tokenFilePath(dataDir))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func saveToken(dataDir, token string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return os.WriteFile(tokenFilePath(dataDir), []byte(token+"\n"), 0o600)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is vinq running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// apiError is the server's error envelope.
type apiError struct {
	Status  int
	Message string
	Type    string
	Hint    []string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		msg += " (run `vinq login` with an admin account)"
	}
	if len(e.Hint) > 0 {
		msg += "\nrequired features: " + strings.Join(e.Hint, ", ")
	}
	return msg
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var env struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
			Hint struct {
				RequiredFeatures []string `json:"required_features"`
			} `json:"hint"`
		}
		if json.Unmarshal(body, &env) != nil || env.Error.Message == "" {
			return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return &apiError{
			Status:  resp.StatusCode,
			Message: env.Error.Message,
			Type:    env.Error.Type,
			Hint:    env.Hint.RequiredFeatures,
		}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
