// Package storage provides interfaces and types for OAuth client, code,
// token, and user persistence.
//
// The storage package defines the core storage interfaces used throughout the
// noxauth library:
//   - ClientStore: Manages registered OAuth clients
//   - CodeStore: Manages single-use authorization codes
//   - TokenStore: Manages issued access/refresh token records
//   - UserStore: Resolves resource-owner records for the userinfo endpoint
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/redis: Redis-backed distributed storage for production
package storage
