package authpw

import (
	"context"
	"errors"
	"testing"

	"taskdeck/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User",
		})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.ID == "" {
			t.Error("expected user ID to be set")
		}
		if user.PasswordHash == "password123" {
			t.Error("password must not be stored in the clear")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password456",
			DisplayName: "Other User",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com"})
		if err == nil {
			t.Error("expected error for missing password and name")
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "short@example.com",
			Password:    "short",
			DisplayName: "Short",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "not-an-email",
			Password:    "password123",
			DisplayName: "Nope",
		})
		if err == nil {
			t.Error("expected error for invalid email")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "signin@example.com",
		Password:    "password123",
		DisplayName: "Sign In",
	}); err != nil {
		t.Fatalf("seed SignUp failed: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, SignInRequest{
			Email:    "signin@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if user.Email != "signin@example.com" {
			t.Errorf("unexpected user: %s", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "signin@example.com",
			Password: "wrong-password",
		})
		if err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nobody@example.com",
			Password: "password123",
		})
		if err == nil {
			t.Error("expected error for unknown email")
		}
	})

	t.Run("same error for wrong password and unknown email", func(t *testing.T) {
		_, errWrong := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "nope-nope"})
		_, errUnknown := svc.SignIn(ctx, SignInRequest{Email: "missing@example.com", Password: "nope-nope"})
		if errWrong == nil || errUnknown == nil {
			t.Fatal("expected both sign-ins to fail")
		}
		if errWrong.Error() != errUnknown.Error() {
			t.Error("error messages must not reveal whether the email exists")
		}
	})
}
