package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/noxauth/noxauth/internal/testutil"
	"github.com/noxauth/noxauth/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func TestStore_ClientRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	client := testutil.NewConfidentialClient()

	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := s.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != client.ClientID || !got.Confidential {
		t.Errorf("GetClient() = %+v", got)
	}

	if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	s := newStore(t)

	if err := s.SaveClient(context.Background(), nil); err == nil {
		t.Error("SaveClient(nil) should return error")
	}
	if err := s.SaveClient(context.Background(), &storage.Client{}); err == nil {
		t.Error("SaveClient() without a client ID should return error")
	}
}

func TestStore_ValidateClientSecret(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SaveClient(ctx, testutil.NewConfidentialClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := s.SaveClient(ctx, testutil.NewPublicClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	if err := s.ValidateClientSecret(ctx, "test-confidential", testutil.ClientSecret); err != nil {
		t.Errorf("correct secret rejected: %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "test-confidential", "wrong"); !errors.Is(err, storage.ErrInvalidClientCredentials) {
		t.Errorf("wrong secret error = %v, want ErrInvalidClientCredentials", err)
	}
	if err := s.ValidateClientSecret(ctx, "test-public", ""); err != nil {
		t.Errorf("public client should validate by client_id alone, error = %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "missing", testutil.ClientSecret); !errors.Is(err, storage.ErrInvalidClientCredentials) {
		t.Errorf("unknown client error = %v, want ErrInvalidClientCredentials", err)
	}
}

func TestStore_ListClients(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SaveClient(ctx, testutil.NewConfidentialClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := s.SaveClient(ctx, testutil.NewPublicClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 2 {
		t.Errorf("ListClients() returned %d clients, want 2", len(clients))
	}
}

func TestStore_ConsumeAuthorizationCode(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	code := testutil.NewAuthorizationCode("client-1", "user-1")

	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if got.ClientID != "client-1" || got.UserID != "user-1" {
		t.Errorf("consumed code = %+v", got)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second consume error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode_Expired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	code := testutil.NewAuthorizationCode("client-1", "user-1")
	code.ExpiresAt = time.Now().Add(-time.Minute)

	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeExpired) {
		t.Fatalf("consume expired error = %v, want ErrCodeExpired", err)
	}

	// The expired probe consumed it; from now on it never existed
	if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second consume error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode_ConcurrentSingleWinner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	code := testutil.NewAuthorizationCode("client-1", "user-1")
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, storage.ErrCodeNotFound) {
			t.Errorf("loser error = %v, want ErrCodeNotFound", err)
		}
	}
	if wins != 1 {
		t.Errorf("concurrent consumes succeeded %d times, want exactly 1", wins)
	}
}

func TestStore_DeleteAuthorizationCode(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	code := testutil.NewAuthorizationCode("client-1", "user-1")
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if err := s.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Fatalf("DeleteAuthorizationCode() error = %v", err)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("consume after delete error = %v, want ErrCodeNotFound", err)
	}

	// Deleting a missing code is not an error
	if err := s.DeleteAuthorizationCode(ctx, "missing"); err != nil {
		t.Errorf("DeleteAuthorizationCode(missing) error = %v", err)
	}
}

func TestStore_TokenRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	record := testutil.NewTokenRecord("client-1", "user-1")

	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := s.GetByAccessToken(ctx, record.AccessToken)
	if err != nil {
		t.Fatalf("GetByAccessToken() error = %v", err)
	}
	if got.RefreshToken != record.RefreshToken {
		t.Errorf("RefreshToken = %q", got.RefreshToken)
	}

	if _, err := s.GetByAccessToken(ctx, "missing"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetByAccessToken(missing) error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_GetByAccessToken_Expired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	record := testutil.NewTokenRecord("client-1", "user-1")
	record.AccessExpiresAt = time.Now().Add(-time.Minute)

	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	if _, err := s.GetByAccessToken(ctx, record.AccessToken); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	record := testutil.NewTokenRecord("client-1", "user-1")
	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := s.ConsumeRefreshToken(ctx, record.RefreshToken)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if got.AccessToken != record.AccessToken {
		t.Errorf("AccessToken = %q", got.AccessToken)
	}

	// Consuming the refresh token kills the paired access token
	if _, err := s.GetByAccessToken(ctx, record.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("paired access token error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.ConsumeRefreshToken(ctx, record.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second consume error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_ConsumeRefreshToken_ConcurrentSingleWinner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	record := testutil.NewTokenRecord("client-1", "user-1")
	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeRefreshToken(ctx, record.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("concurrent consumes succeeded %d times, want exactly 1", wins)
	}
}

func TestStore_RevokeAccessToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	record := testutil.NewTokenRecord("client-1", "user-1")
	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	if err := s.RevokeAccessToken(ctx, record.AccessToken); err != nil {
		t.Fatalf("RevokeAccessToken() error = %v", err)
	}

	// Both indexes are cleared
	if _, err := s.GetByAccessToken(ctx, record.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("access token error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.ConsumeRefreshToken(ctx, record.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("refresh token error = %v, want ErrTokenNotFound", err)
	}

	// Revoking an unknown token is not an error
	if err := s.RevokeAccessToken(ctx, "missing"); err != nil {
		t.Errorf("RevokeAccessToken(missing) error = %v", err)
	}
}

func TestStore_UserRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user := testutil.NewUser()

	if err := s.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.Email != user.Email {
		t.Errorf("Email = %q", got.Email)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestStore_StopIsIdempotent(t *testing.T) {
	s := New()
	s.Stop()
	s.Stop()
}

func TestStore_CleanupSweepsExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	expired := testutil.NewAuthorizationCode("test-confidential", "user-1")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveAuthorizationCode(ctx, expired); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	live := testutil.NewAuthorizationCode("test-confidential", "user-1")
	if err := s.SaveAuthorizationCode(ctx, live); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	record := testutil.NewTokenRecord("test-confidential", "user-1")
	record.AccessExpiresAt = time.Now().Add(-time.Minute)
	record.RefreshExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveToken(ctx, record); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	s.cleanup()

	// Swept entries are gone entirely, not merely expired
	if _, err := s.ConsumeAuthorizationCode(ctx, expired.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("consume after sweep error = %v, want ErrCodeNotFound", err)
	}
	if _, err := s.GetByAccessToken(ctx, record.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("access token after sweep error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.ConsumeRefreshToken(ctx, record.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("refresh token after sweep error = %v, want ErrTokenNotFound", err)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, live.Code); err != nil {
		t.Errorf("live code swept by cleanup: %v", err)
	}
}
