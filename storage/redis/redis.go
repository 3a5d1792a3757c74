// Package redis provides a Redis-backed implementation of all storage
// interfaces for multi-instance deployments. Expiring records carry Redis
// TTLs so the server never sweeps them itself.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "noxauth:"

	// scanBatchSize is the number of keys fetched per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout bounds the initial PING
	connectionVerifyTimeout = 5 * time.Second
)

// dummyHash mirrors the in-memory store: a bcrypt comparison always runs,
// against this hash when the client is unknown, so timing does not reveal
// client existence.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Config holds configuration for the Redis storage backend
type Config struct {
	// Address is the Redis server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional Redis password
	Password string

	// DB is the database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "noxauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration
	TLS *tls.Config

	// Logger is the optional structured logger (default slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
)

// New creates a Redis-backed store and verifies the connection
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

// Close closes the Redis client connection
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Info("redis storage connection closed")
	return err
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Key helpers

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) accessTokenKey(accessToken string) string {
	return fmt.Sprintf("%stoken:access:%s", s.prefix, accessToken)
}

func (s *Store) refreshTokenKey(refreshToken string) string {
	return fmt.Sprintf("%stoken:refresh:%s", s.prefix, refreshToken)
}

func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

// luaConsumeRefreshToken atomically resolves a refresh token to its record
// and deletes both indexes. Exactly one concurrent caller gets the record;
// the rest see NOT_FOUND. The refresh key stores the access token value so
// the record key can be derived inside the script.
//
// KEYS[1] = refresh token key
// ARGV[1] = key prefix for access token records
const luaConsumeRefreshToken = `
local accessToken = redis.call('GET', KEYS[1])
if not accessToken then
    return 'NOT_FOUND'
end

local recordKey = ARGV[1] .. accessToken
local data = redis.call('GET', recordKey)

redis.call('DEL', KEYS[1])
redis.call('DEL', recordKey)

if not data then
    return 'NOT_FOUND'
end
return data
`

var consumeRefreshScript = goredis.NewScript(luaConsumeRefreshToken)

// JSON serialization. Records are stored as explicit JSON documents with
// unix timestamps rather than gob or driver-native encodings.

type clientJSON struct {
	ClientID                string   `json:"client_id"`
	ClientSecretHash        string   `json:"client_secret_hash,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scopes                  []string `json:"scopes,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Confidential            bool     `json:"confidential"`
	CreatedAt               int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                c.ClientID,
		ClientSecretHash:        c.ClientSecretHash,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		Scopes:                  c.Scopes,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		Confidential:            c.Confidential,
		CreatedAt:               c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientSecretHash:        j.ClientSecretHash,
		ClientName:              j.ClientName,
		RedirectURIs:            j.RedirectURIs,
		Scopes:                  j.Scopes,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		Confidential:            j.Confidential,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
}

type codeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toCodeJSON(c *storage.AuthorizationCode) *codeJSON {
	return &codeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		UserID:              c.UserID,
		RedirectURI:         c.RedirectURI,
		Scopes:              c.Scopes,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		CreatedAt:           c.CreatedAt.Unix(),
		ExpiresAt:           c.ExpiresAt.Unix(),
	}
}

func fromCodeJSON(j *codeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
	}
}

type tokenJSON struct {
	AccessToken      string   `json:"access_token"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	ClientID         string   `json:"client_id"`
	UserID           string   `json:"user_id,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	AccessExpiresAt  int64    `json:"access_expires_at"`
	RefreshExpiresAt int64    `json:"refresh_expires_at,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toTokenJSON(t *storage.Token) *tokenJSON {
	j := &tokenJSON{
		AccessToken:     t.AccessToken,
		RefreshToken:    t.RefreshToken,
		ClientID:        t.ClientID,
		UserID:          t.UserID,
		Scopes:          t.Scopes,
		AccessExpiresAt: t.AccessExpiresAt.Unix(),
		CreatedAt:       t.CreatedAt.Unix(),
	}
	if !t.RefreshExpiresAt.IsZero() {
		j.RefreshExpiresAt = t.RefreshExpiresAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	t := &storage.Token{
		AccessToken:     j.AccessToken,
		RefreshToken:    j.RefreshToken,
		ClientID:        j.ClientID,
		UserID:          j.UserID,
		Scopes:          j.Scopes,
		AccessExpiresAt: time.Unix(j.AccessExpiresAt, 0),
		CreatedAt:       time.Unix(j.CreatedAt, 0),
	}
	if j.RefreshExpiresAt > 0 {
		t.RefreshExpiresAt = time.Unix(j.RefreshExpiresAt, 0)
	}
	return t
}

type userJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Picture       string `json:"picture,omitempty"`
	ProfileURL    string `json:"profile_url,omitempty"`
	Type          string `json:"type,omitempty"`
	Role          string `json:"role,omitempty"`
	Bio           string `json:"bio,omitempty"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
}

func toUserJSON(u *storage.User) *userJSON {
	j := &userJSON{
		ID:            u.ID,
		Name:          u.Name,
		GivenName:     u.GivenName,
		FamilyName:    u.FamilyName,
		Nickname:      u.Nickname,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Picture:       u.Picture,
		ProfileURL:    u.ProfileURL,
		Type:          u.Type,
		Role:          u.Role,
		Bio:           u.Bio,
	}
	if !u.UpdatedAt.IsZero() {
		j.UpdatedAt = u.UpdatedAt.Unix()
	}
	return j
}

func fromUserJSON(j *userJSON) *storage.User {
	u := &storage.User{
		ID:            j.ID,
		Name:          j.Name,
		GivenName:     j.GivenName,
		FamilyName:    j.FamilyName,
		Nickname:      j.Nickname,
		Email:         j.Email,
		EmailVerified: j.EmailVerified,
		Picture:       j.Picture,
		ProfileURL:    j.ProfileURL,
		Type:          j.Type,
		Role:          j.Role,
		Bio:           j.Bio,
	}
	if j.UpdatedAt > 0 {
		u.UpdatedAt = time.Unix(j.UpdatedAt, 0)
	}
	return u
}

// calculateTTL returns the TTL for a key from its expiry, never negative
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return time.Millisecond
	}
	return ttl
}

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with a client ID is required")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Set(ctx, s.clientKey(client.ClientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret against its bcrypt hash
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

// ListClients lists all registered clients via SCAN
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var clients []*storage.Client

	iter := s.client.Scan(ctx, 0, s.prefix+"client:*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to get client: %w", err)
		}
		var j clientJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client: %w", err)
		}
		clients = append(clients, fromClientJSON(&j))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan clients: %w", err)
	}
	return clients, nil
}

// SaveAuthorizationCode saves a code with a TTL matching its expiry
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code value is required")
	}

	data, err := json.Marshal(toCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if err := s.client.Set(ctx, s.codeKey(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("saved authorization code", "client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code via
// GETDEL. Exactly one concurrent caller receives the record.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var j codeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	record := fromCodeJSON(&j)
	// The TTL usually reaps expired codes before we see them, but the
	// record carries its own expiry as the source of truth
	if security.IsExpired(record.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}
	return record, nil
}

// DeleteAuthorizationCode removes a code without returning it
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.codeKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// SaveToken persists a token record under its access token key, plus a
// refresh index entry pointing at the access token when a refresh token
// was issued. The record's TTL spans the refresh lifetime so refreshes
// keep working after the access token expires.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("token with an access token value is required")
	}

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	recordTTL := calculateTTL(token.AccessExpiresAt)
	if token.RefreshToken != "" {
		recordTTL = calculateTTL(token.RefreshExpiresAt)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.accessTokenKey(token.AccessToken), data, recordTTL)
	if token.RefreshToken != "" {
		pipe.Set(ctx, s.refreshTokenKey(token.RefreshToken), token.AccessToken, calculateTTL(token.RefreshExpiresAt))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Debug("saved token record", "client_id", token.ClientID)
	return nil
}

// GetByAccessToken retrieves a record by access token value
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	data, err := s.client.Get(ctx, s.accessTokenKey(accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	record := fromTokenJSON(&j)
	// The record outlives the access token when a refresh token was
	// issued, so access expiry is checked here rather than via TTL
	if security.IsExpired(record.AccessExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return record, nil
}

// ConsumeRefreshToken atomically retrieves and deletes a record by refresh
// token value. A Lua script resolves and deletes both keys in one step so
// concurrent refreshes of the same token produce exactly one winner.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	result, err := consumeRefreshScript.Run(ctx, s.client,
		[]string{s.refreshTokenKey(refreshToken)},
		s.prefix+"token:access:",
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if result == "NOT_FOUND" {
		return nil, storage.ErrTokenNotFound
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	record := fromTokenJSON(&j)
	if security.IsExpired(record.RefreshExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return record, nil
}

// RevokeAccessToken removes a record by access token value along with its
// refresh index entry
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) error {
	record, err := s.GetByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		if !errors.Is(err, storage.ErrTokenExpired) {
			return err
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.accessTokenKey(accessToken))
	if record != nil && record.RefreshToken != "" {
		pipe.Del(ctx, s.refreshTokenKey(record.RefreshToken))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.logger.Debug("revoked token record")
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	data, err := s.client.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var j userJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return fromUserJSON(&j), nil
}

// SaveUser saves a user record
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user with an ID is required")
	}

	data, err := json.Marshal(toUserJSON(user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, s.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}
