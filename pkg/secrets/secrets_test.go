package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/snapvault/snapvault/pkg/engine"
)

func TestEnvSourceMapsName(t *testing.T) {
	t.Setenv("TICKTICK_ACCESS_TOKEN", "tok")

	value, err := EnvSource{}.Get(context.Background(), "ticktick-access-token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "tok" {
		t.Errorf("value = %q", value)
	}
}

func TestEnvSourceMissing(t *testing.T) {
	_, err := EnvSource{}.Get(context.Background(), "definitely-not-set-anywhere")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type staticSource map[string]string

func (s staticSource) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", engine.ErrNotFound
	}
	return value, nil
}

func TestLayeredFirstHitWins(t *testing.T) {
	layered := Layered{
		staticSource{"gemini-api-key": "from-env"},
		staticSource{"gemini-api-key": "from-manager", "telegram-bot-token": "tg"},
	}

	ctx := context.Background()
	value, err := layered.Get(ctx, "gemini-api-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "from-env" {
		t.Errorf("value = %q, want from-env", value)
	}

	value, err = layered.Get(ctx, "telegram-bot-token")
	if err != nil {
		t.Fatalf("Get fallthrough: %v", err)
	}
	if value != "tg" {
		t.Errorf("value = %q, want tg", value)
	}

	if _, err := layered.Get(ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
}
