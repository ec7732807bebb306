package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/melcloud/internal/store"
)

var testCreds = Credentials{Username: "user@example.com", Password: "secret"}

func countingLogin(calls *int32, delay time.Duration) LoginFunc {
	return func(ctx context.Context, creds Credentials) (*oauth2.Token, error) {
		n := atomic.AddInt32(calls, 1)
		time.Sleep(delay)
		return &oauth2.Token{
			AccessToken: "key-" + string(rune('0'+n)),
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	}
}

func TestConcurrentCallersLoginOnce(t *testing.T) {
	var calls int32
	m, err := NewManager(context.Background(), "melcloud", testCreds, countingLogin(&calls, 20*time.Millisecond), store.NewMemory(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	const callers = 16
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.AccessToken(context.Background())
			if err != nil {
				t.Errorf("AccessToken: %v", err)
				return
			}
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one login, got %d", calls)
	}
	for i, token := range tokens {
		if token != tokens[0] {
			t.Fatalf("caller %d saw %q, want %q", i, token, tokens[0])
		}
	}
}

func TestPersistedTokenSkipsLogin(t *testing.T) {
	st := store.NewMemory()
	state := State{SchemaVersion: SchemaVersion, Username: testCreds.Username, Token: "persisted", Expiry: time.Now().Add(time.Hour)}
	if err := store.SaveJSON(context.Background(), st, store.KeyToken, state); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls int32
	m, err := NewManager(context.Background(), "melcloud", testCreds, countingLogin(&calls, 0), st, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "persisted" || calls != 0 {
		t.Fatalf("expected persisted token without login, got %q after %d logins", token, calls)
	}
}

func TestExpiredOrForeignTokenForcesLogin(t *testing.T) {
	tests := map[string]State{
		"expired": {SchemaVersion: SchemaVersion, Username: testCreds.Username, Token: "old", Expiry: time.Now().Add(-time.Minute)},
		"foreign": {SchemaVersion: SchemaVersion, Username: "other@example.com", Token: "other", Expiry: time.Now().Add(time.Hour)},
		"corrupt": {SchemaVersion: 99, Username: testCreds.Username, Token: "x", Expiry: time.Now().Add(time.Hour)},
	}
	for name, state := range tests {
		t.Run(name, func(t *testing.T) {
			st := store.NewMemory()
			if err := store.SaveJSON(context.Background(), st, store.KeyToken, state); err != nil {
				t.Fatalf("seed: %v", err)
			}
			var calls int32
			m, err := NewManager(context.Background(), "melcloud", testCreds, countingLogin(&calls, 0), st, nil)
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}
			token, err := m.AccessToken(context.Background())
			if err != nil {
				t.Fatalf("AccessToken: %v", err)
			}
			if calls != 1 || token != "key-1" {
				t.Fatalf("expected fresh login, got %q after %d logins", token, calls)
			}

			var saved State
			if err := store.LoadJSON(context.Background(), st, store.KeyToken, &saved); err != nil {
				t.Fatalf("load saved: %v", err)
			}
			if saved.Token != "key-1" || saved.Username != testCreds.Username {
				t.Fatalf("unexpected persisted state: %+v", saved)
			}
		})
	}
}

func TestInvalidateOnlyDropsMatchingToken(t *testing.T) {
	var calls int32
	m, err := NewManager(context.Background(), "melcloud", testCreds, countingLogin(&calls, 0), nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	first, _ := m.AccessToken(context.Background())

	m.Invalidate("not-the-current-token")
	if again, _ := m.AccessToken(context.Background()); again != first || calls != 1 {
		t.Fatalf("unrelated invalidate should keep token")
	}

	m.Invalidate(first)
	second, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if second == first || calls != 2 {
		t.Fatalf("expected re-login after invalidate, got %q after %d logins", second, calls)
	}
}

func TestLoginErrors(t *testing.T) {
	rejected := &Error{Provider: "melcloud", Reason: "invalid credentials"}
	m, err := NewManager(context.Background(), "melcloud", testCreds, func(context.Context, Credentials) (*oauth2.Token, error) {
		return nil, rejected
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.AccessToken(context.Background()); !errors.Is(err, rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	empty, err := NewManager(context.Background(), "melcloud", testCreds, func(context.Context, Credentials) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	var authErr *Error
	if _, err := empty.AccessToken(context.Background()); !errors.As(err, &authErr) {
		t.Fatalf("expected *Error for empty token, got %v", err)
	}
}

func TestLogoutForgetsToken(t *testing.T) {
	st := store.NewMemory()
	var calls int32
	m, err := NewManager(context.Background(), "melcloud", testCreds, countingLogin(&calls, 0), st, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := m.Expiry(); ok {
		t.Fatalf("token should be gone after logout")
	}
	if _, err := st.Load(context.Background(), store.KeyToken); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("persisted token should be deleted, got %v", err)
	}
}

func TestNewManagerValidates(t *testing.T) {
	login := countingLogin(new(int32), 0)
	if _, err := NewManager(context.Background(), "", testCreds, login, nil, nil); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, err := NewManager(context.Background(), "melcloud", Credentials{}, login, nil, nil); err == nil {
		t.Fatalf("expected credentials error")
	}
	if _, err := NewManager(context.Background(), "melcloud", testCreds, nil, nil, nil); err == nil {
		t.Fatalf("expected login func error")
	}
}
