// Package secrets resolves credential material at runtime. Production runs
// read from GCP Secret Manager with an environment fallback for local use.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"github.com/snapvault/snapvault/pkg/engine"
)

// EnvSource reads secrets from environment variables. Secret names are
// uppercased with dashes mapped to underscores, so "ticktick-access-token"
// reads TICKTICK_ACCESS_TOKEN.
type EnvSource struct{}

func (EnvSource) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secret %q: environment variable %s not set: %w", name, key, engine.ErrNotFound)
	}
	return value, nil
}

// ManagerSource fetches secrets from GCP Secret Manager, caching each value
// for the lifetime of the process.
type ManagerSource struct {
	client    *secretmanager.Client
	projectID string

	mu    sync.Mutex
	cache map[string]string
}

// NewManagerSource connects to Secret Manager using ambient credentials.
func NewManagerSource(ctx context.Context, projectID string) (*ManagerSource, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, engine.NewAuthError("connecting to secret manager", err)
	}
	return &ManagerSource{
		client:    client,
		projectID: projectID,
		cache:     make(map[string]string),
	}, nil
}

func (s *ManagerSource) Get(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if value, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return value, nil
	}
	s.mu.Unlock()

	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name),
	})
	if err != nil {
		return "", engine.NewAuthError(fmt.Sprintf("accessing secret %q", name), err)
	}
	value := string(resp.GetPayload().GetData())

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()
	return value, nil
}

// Close releases the Secret Manager connection.
func (s *ManagerSource) Close() error {
	return s.client.Close()
}

// Layered tries each source in order and returns the first hit. It lets
// environment overrides shadow Secret Manager values during local runs.
type Layered []engine.SecretSource

func (l Layered) Get(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, src := range l {
		value, err := src.Get(ctx, name)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("secret %q: no sources configured: %w", name, engine.ErrNotFound)
	}
	return "", lastErr
}
