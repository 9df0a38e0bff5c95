package service

import (
	"errors"
	"testing"
	"time"

	"coursegen_backend/internal/config"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/testutil"
	"coursegen_backend/internal/util"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	db := testutil.DB(t)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "unit-test-secret", ExpireTime: time.Hour}}
	return NewAuthService(repository.NewUserRepository(db), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newAuthService(t)

	user, err := svc.Register(RegisterInput{Username: " alice ", Email: "Alice@Example.com", Password: "pw123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Username != "alice" || user.Email != "alice@example.com" || user.PasswordHash == "pw123" {
		t.Fatalf("unexpected user: %+v", user)
	}

	res, err := svc.Login("ALICE@example.com", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Username != "alice" || res.Token == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	claims, err := util.ParseJWT(res.Token, "unit-test-secret")
	if err != nil || claims.UserID != user.ID {
		t.Fatalf("token claims = %+v, err = %v", claims, err)
	}

	got, err := svc.GetUser(user.ID)
	if err != nil || got.Email != user.Email {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
}

func TestRegisterConflicts(t *testing.T) {
	svc := newAuthService(t)
	if _, err := svc.Register(RegisterInput{Username: "bob", Email: "bob@example.com", Password: "pw123"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Register(RegisterInput{Username: "bobby", Email: "BOB@example.com", Password: "pw123"}); !errors.Is(err, util.ErrEmailRegistered) {
		t.Fatalf("duplicate email err = %v", err)
	}
	if _, err := svc.Register(RegisterInput{Username: "bob", Email: "other@example.com", Password: "pw123"}); !errors.Is(err, util.ErrUsernameTaken) {
		t.Fatalf("duplicate username err = %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	svc := newAuthService(t)
	if _, err := svc.Register(RegisterInput{Username: "carol", Email: "carol@example.com", Password: "pw123"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login("carol@example.com", "nope"); !errors.Is(err, util.ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := svc.Login("nobody@example.com", "pw123"); !errors.Is(err, util.ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v", err)
	}
	if _, err := svc.GetUser(999); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}
