package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	utils.PasswordCost = bcrypt.MinCost
}

type authFixture struct {
	svc   *AuthService
	users *repository.MemoryUserRepository
	clock *clock
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clk := newClock()
	signer, err := utils.NewSessionSigner("test-jwt-secret", 7*24*time.Hour, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	signer.WithClock(clk.Now)
	users := repository.NewMemoryUserRepository()
	svc := NewAuthService(users, signer, 5, 30*24*time.Hour).WithClock(clk.Now)
	return &authFixture{svc: svc, users: users, clock: clk}
}

func (f *authFixture) signup(t *testing.T, username, account string) *AuthResult {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), &SignupRequest{Username: username, Password: "secret123", UserAccountID: account})
	if err != nil {
		t.Fatalf("Signup(%q) error = %v", username, err)
	}
	return res
}

func TestSignup(t *testing.T) {
	f := newAuthFixture(t)
	res := f.signup(t, "  Alice ", "99")

	if res.User.Username != "alice" {
		t.Errorf("Username = %q, expected lowercased %q", res.User.Username, "alice")
	}
	if res.User.Password == "secret123" {
		t.Error("password must be stored hashed")
	}
	if res.User.UserAccountID == nil || *res.User.UserAccountID != "99" {
		t.Errorf("UserAccountID = %v, expected 99", res.User.UserAccountID)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Error("signup should issue a token pair")
	}
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     SignupRequest
		wantErr error
	}{
		{"short username", SignupRequest{Username: "ab", Password: "secret123", UserAccountID: "1"}, ErrInvalidUsername},
		{"short password", SignupRequest{Username: "alice", Password: "12345", UserAccountID: "1"}, ErrInvalidPassword},
		{"password over bcrypt limit", SignupRequest{Username: "alice", Password: strings.Repeat("p", 73), UserAccountID: "1"}, ErrInvalidPassword},
		{"missing account", SignupRequest{Username: "alice", Password: "secret123"}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			if _, err := f.svc.Signup(context.Background(), &tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Signup() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignup_Duplicate(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "99")

	_, err := f.svc.Signup(context.Background(), &SignupRequest{Username: "ALICE", Password: "secret123", UserAccountID: "100"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("Signup() error = %v, expected ErrUserExists", err)
	}
	if ErrorCode(err) != "USER_EXISTS" {
		t.Errorf("ErrorCode() = %q, expected %q", ErrorCode(err), "USER_EXISTS")
	}
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "99")
	f.clock.Advance(time.Hour)

	res, err := f.svc.Login(context.Background(), &LoginRequest{Username: "Alice", Password: "secret123"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.LastLogin == nil || !res.User.LastLogin.Equal(f.clock.Now()) {
		t.Errorf("LastLogin = %v, expected %v", res.User.LastLogin, f.clock.Now())
	}

	claims, err := f.svc.signer.VerifyType(res.Tokens.AccessToken, utils.TokenTypeAccess)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.Issuer != utils.TokenIssuer || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signup(t, "alice", "99").User

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"wrong password", LoginRequest{Username: "alice", Password: "wrong-pass"}},
		{"unknown user", LoginRequest{Username: "bob", Password: "secret123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), &tt.req)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("Login() error = %v, expected ErrInvalidCredentials", err)
			}
			if ErrorCode(err) != "INVALID_CREDENTIALS" {
				t.Errorf("ErrorCode() = %q", ErrorCode(err))
			}
		})
	}

	stored, _ := f.users.FindByID(context.Background(), user.ID)
	if stored.LastLogin != nil {
		t.Error("failed logins must not touch last_login")
	}

	f.users.SetActive(user.ID, false)
	if _, err := f.svc.Login(context.Background(), &LoginRequest{Username: "alice", Password: "secret123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("inactive Login() error = %v, expected ErrInvalidCredentials", err)
	}
}

func TestLogin_RefreshTokenCap(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.signup(t, "alice", "99").User

	var first string
	for i := 0; i < 6; i++ {
		f.clock.Advance(time.Second)
		res, err := f.svc.Login(ctx, &LoginRequest{Username: "alice", Password: "secret123"})
		if err != nil {
			t.Fatalf("Login #%d error = %v", i+1, err)
		}
		if i == 0 {
			first = res.Tokens.RefreshToken
		}
	}

	list, _ := f.users.ListRefreshTokens(ctx, user.ID)
	if len(list) != 5 {
		t.Errorf("refresh token count = %d, expected 5", len(list))
	}

	if _, err := f.svc.Refresh(ctx, first, 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("evicted token Refresh() error = %v, expected ErrInvalidRefreshToken", err)
	}
}

func TestRefresh_Rotates(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	res := f.signup(t, "alice", "99")

	f.clock.Advance(time.Minute)
	rotated, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, res.User.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rotated.Tokens.RefreshToken == res.Tokens.RefreshToken {
		t.Error("refresh should issue a new refresh token")
	}

	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reused token Refresh() error = %v, expected ErrInvalidRefreshToken", err)
	}
	if _, err := f.svc.Refresh(ctx, rotated.Tokens.RefreshToken, 0); err != nil {
		t.Errorf("rotated token Refresh() error = %v", err)
	}

	list, _ := f.users.ListRefreshTokens(ctx, res.User.ID)
	if len(list) != 1 {
		t.Errorf("refresh token count = %d, expected 1", len(list))
	}
}

func TestRefresh_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice", "99")
	bob := f.signup(t, "bob", "100")

	if _, err := f.svc.Refresh(ctx, alice.Tokens.RefreshToken, bob.User.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-user Refresh() error = %v, expected ErrForbidden", err)
	}
	if _, err := f.svc.Refresh(ctx, alice.Tokens.AccessToken, 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("access token as refresh error = %v, expected ErrInvalidRefreshToken", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage", 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("garbage Refresh() error = %v, expected ErrInvalidRefreshToken", err)
	}
	if _, err := f.svc.Refresh(ctx, "", 0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty Refresh() error = %v, expected ErrInvalidRequest", err)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.svc.Refresh(ctx, alice.Tokens.RefreshToken, 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expired Refresh() error = %v, expected ErrInvalidRefreshToken", err)
	}
}

func TestLogoutAndPrune(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	res := f.signup(t, "alice", "99")

	if err := f.svc.Logout(ctx, res.User.ID, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, 0); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("Refresh() after logout error = %v, expected ErrInvalidRefreshToken", err)
	}

	if _, err := f.svc.Login(ctx, &LoginRequest{Username: "alice", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	removed, err := f.svc.PruneExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("PruneExpiredTokens() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneExpiredTokens() = %d, expected 1", removed)
	}

	cleanup := NewTokenCleanupService(f.svc, "")
	if got := cleanup.RunOnce(ctx); got != 0 {
		t.Errorf("RunOnce() = %d, expected 0 after prune", got)
	}
}

func TestGetUserByID(t *testing.T) {
	f := newAuthFixture(t)
	res := f.signup(t, "alice", "99")

	user, err := f.svc.GetUserByID(context.Background(), res.User.ID)
	if err != nil || user.Username != "alice" {
		t.Errorf("GetUserByID() = %v, %v", user, err)
	}
	if _, err := f.svc.GetUserByID(context.Background(), 999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByID(999) error = %v, expected ErrUserNotFound", err)
	}
}

func TestRefreshRequest_Token(t *testing.T) {
	if got := (RefreshRequest{RefreshTokenCamel: "camel"}).Token(); got != "camel" {
		t.Errorf("Token() = %q, expected %q", got, "camel")
	}
	if got := (RefreshRequest{RefreshToken: "snake", RefreshTokenCamel: "camel"}).Token(); got != "snake" {
		t.Errorf("Token() = %q, expected %q", got, "snake")
	}
}
