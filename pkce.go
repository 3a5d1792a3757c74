package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// VerifyChallenge reports whether a code verifier satisfies the challenge
// recorded at code issuance.
//
// For S256 the SHA-256 of the verifier is base64url-encoded without padding
// and compared to the challenge in constant time. For plain the verifier
// must equal the challenge. Unknown methods fail closed. No length or
// charset constraints are imposed here; the verifier either derives the
// recorded challenge or it does not.
func VerifyChallenge(verifier, challenge, method string) bool {
	switch method {
	case CodeChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case CodeChallengeMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
