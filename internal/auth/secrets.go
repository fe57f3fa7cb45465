package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Secrets are the symmetric keys the tool keeps to itself.
type Secrets struct {
	AccessToken []byte
	LaunchKey   []byte
}

const (
	infoAccessToken = "mindengage-editor/access-token/v1"
	infoLaunchKey   = "mindengage-editor/launch-key/v1"
)

// DeriveSecrets expands one configured master secret into independent
// HS256 keys so a leaked launch key cannot mint access tokens.
func DeriveSecrets(master string) (Secrets, error) {
	if len(master) < 16 {
		return Secrets{}, errors.New("secrets: master secret must be at least 16 bytes")
	}
	at, err := expand(master, infoAccessToken)
	if err != nil {
		return Secrets{}, err
	}
	lk, err := expand(master, infoLaunchKey)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{AccessToken: at, LaunchKey: lk}, nil
}

func expand(master, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("secrets: hkdf %s: %w", info, err)
	}
	return out, nil
}
