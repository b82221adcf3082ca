//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/ipulse/apiserver/config"
	"github.com/ipulse/apiserver/internal/db"
	"github.com/ipulse/apiserver/internal/logging"
	"github.com/ipulse/apiserver/internal/server"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ipulse",
				"POSTGRES_PASSWORD": "ipulse",
				"POSTGRES_DB":       "ipulse",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	cfg, err := containerConfig(ctx, container)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build config: %v\n", err)
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	if err := db.Migrate(cfg.Database, db.Up); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	srv, err := server.New(ctx, cfg, logging.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

func TestAccountLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())

	status, _, err := post(baseURL+"/register", map[string]string{"name": "Ann", "email": email, "password": "p1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("register status = %d", status)
	}

	// a second row with the same email is accepted; lookups keep returning the first
	status, _, err = post(baseURL+"/register", map[string]string{"name": "Bob", "email": email, "password": "p1"})
	if err != nil {
		t.Fatalf("register duplicate: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("duplicate register status = %d", status)
	}

	status, body, err := post(baseURL+"/login", map[string]string{"email": email, "password": "p1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("login response missing user: %v", body)
	}
	if user["name"] != "Ann" || user["email"] != email || user["password"] != "p1" {
		t.Fatalf("unexpected user: %v", user)
	}

	status, _, err = post(baseURL+"/login", map[string]string{"email": email, "password": "nope"})
	if err != nil {
		t.Fatalf("login wrong password: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", status)
	}

	status, body, err = post(baseURL+"/forgot-password", map[string]string{"email": email})
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if status != http.StatusOK || body["password"] != "p1" {
		t.Fatalf("forgot password = %d %v", status, body)
	}

	status, _, err = post(baseURL+"/forgot-password", map[string]string{"email": "missing-" + email})
	if err != nil {
		t.Fatalf("forgot password unknown: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("unknown email status = %d", status)
	}
}

func TestRegisterMissingField(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)

	status, body, err := post(baseURL+"/register", map[string]string{"name": "Ann", "password": "p1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if status != http.StatusInternalServerError || body["success"] != false {
		t.Fatalf("missing email = %d %v", status, body)
	}
}

func containerConfig(ctx context.Context, container tc.Container) (config.Config, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return config.Config{}, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return config.Config{}, err
	}

	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_DRIVER", config.DriverPostgres)
	_ = os.Setenv("DB_HOST", host)
	_ = os.Setenv("DB_PORT", port.Port())
	_ = os.Setenv("DB_USER", "ipulse")
	_ = os.Setenv("DB_PASSWORD", "ipulse")
	_ = os.Setenv("DB_NAME", "ipulse")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("ACCOUNT_MODE", config.ModeLegacy)
	_ = os.Setenv("MQ_BACKEND", config.BackendNone)

	return config.LoadConfig()
}

func post(url string, payload any) (int, map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}
