package testutil

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestClientSecretHashMatchesPlaintext(t *testing.T) {
	if err := bcrypt.CompareHashAndPassword([]byte(ClientSecretHash), []byte(ClientSecret)); err != nil {
		t.Errorf("ClientSecretHash does not verify against ClientSecret: %v", err)
	}
}
