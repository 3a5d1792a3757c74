// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
)

// dummyHash is a bcrypt hash compared against when the client does not
// exist or has no secret, so secret validation takes the same time either
// way and cannot be used to probe for client IDs.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode
	users   map[string]*storage.User

	// Token records are indexed twice so lookups by either token value
	// resolve the same record
	byAccessToken  map[string]*storage.Token
	byRefreshToken map[string]*storage.Token

	// Lock-free counters for metric collection
	clientsCount atomic.Int64
	codesCount   atomic.Int64
	tokensCount  atomic.Int64

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
)

// New creates an in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates an in-memory store with a custom cleanup
// interval. Zero or negative falls back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		users:           make(map[string]*storage.User),
		byAccessToken:   make(map[string]*storage.Token),
		byRefreshToken:  make(map[string]*storage.Token),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation attaches OpenTelemetry instrumentation and registers
// the storage size gauges
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage.memory")
	}
	s.mu.Unlock()

	return inst.RegisterStorageSizeCallbacks(
		s.clientsCount.Load,
		s.codesCount.Load,
		s.tokensCount.Load,
	)
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("client with a client ID is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[client.ClientID]; !existed {
		s.clientsCount.Add(1)
	}
	s.clients[client.ClientID] = client

	s.logger.Debug("saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret against its bcrypt hash.
// A bcrypt comparison runs on every call, against a dummy hash when the
// client is unknown, so the timing does not reveal whether the client exists.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	public := false
	if err == nil {
		if !client.Confidential {
			public = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if public && err == nil {
		return nil
	}
	if err != nil || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients, nil
}

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_code", err, startTime) }()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code value is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[code.Code]; !existed {
		s.codesCount.Add(1)
	}
	s.codes[code.Code] = code

	s.logger.Debug("saved authorization code", "client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code.
// The lookup and delete happen under one write lock, so concurrent
// exchanges of the same code produce exactly one winner.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "consume_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	delete(s.codes, code)
	s.codesCount.Add(-1)

	if security.IsExpired(record.ExpiresAt) {
		err = storage.ErrCodeExpired
		return nil, err
	}
	return record, nil
}

// DeleteAuthorizationCode removes a code without returning it
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[code]; existed {
		delete(s.codes, code)
		s.codesCount.Add(-1)
	}
	return nil
}

// SaveToken persists an issued token pair
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_token", err, startTime) }()

	if token == nil || token.AccessToken == "" {
		err = fmt.Errorf("token with an access token value is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.byAccessToken[token.AccessToken]; !existed {
		s.tokensCount.Add(1)
	}
	s.byAccessToken[token.AccessToken] = token
	if token.RefreshToken != "" {
		s.byRefreshToken[token.RefreshToken] = token
	}

	s.logger.Debug("saved token record", "client_id", token.ClientID)
	return nil
}

// GetByAccessToken retrieves a record by access token value
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byAccessToken[accessToken]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}
	if security.IsExpired(record.AccessExpiresAt) {
		err = storage.ErrTokenExpired
		return nil, err
	}
	return record, nil
}

// ConsumeRefreshToken atomically retrieves and deletes a record by refresh
// token value. Both indexes are cleared under one write lock, so the paired
// access token dies with the refresh token and concurrent refreshes of the
// same token produce exactly one winner.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byRefreshToken[refreshToken]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	delete(s.byRefreshToken, refreshToken)
	delete(s.byAccessToken, record.AccessToken)
	s.tokensCount.Add(-1)

	if security.IsExpired(record.RefreshExpiresAt) {
		err = storage.ErrTokenExpired
		return nil, err
	}
	return record, nil
}

// RevokeAccessToken removes a record by access token value
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "revoke_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byAccessToken[accessToken]
	if !ok {
		return nil
	}

	delete(s.byAccessToken, accessToken)
	if record.RefreshToken != "" {
		delete(s.byRefreshToken, record.RefreshToken)
	}
	s.tokensCount.Add(-1)

	s.logger.Debug("revoked token record", "client_id", record.ClientID)
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	return user, nil
}

// SaveUser saves a user record
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user with an ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired codes and token records. Lookups already reject
// expired entries, so the sweep only reclaims memory.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for value, code := range s.codes {
		if security.IsExpired(code.ExpiresAt) {
			delete(s.codes, value)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	for value, record := range s.byAccessToken {
		expiry := record.AccessExpiresAt
		if record.RefreshToken != "" {
			// A live refresh token keeps the record alive past access expiry
			expiry = record.RefreshExpiresAt
		}
		if security.IsExpired(expiry) {
			delete(s.byAccessToken, value)
			if record.RefreshToken != "" {
				delete(s.byRefreshToken, record.RefreshToken)
			}
			s.tokensCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("cleaned up expired entries", "count", cleaned)
	}
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(attribute.String(instrumentation.AttrStorageOperation, operation)))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if s.inst == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
