package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const pepperBytes = 32

var (
	pepperOnce sync.Once
	pepper     string
	pepperFile string
)

// SetPepperPath points at the pepper file. Call it before the first hash
// or fingerprint operation; once loaded the pepper sticks for the life of
// the process.
func SetPepperPath(file string) {
	pepperFile = file
}

// GetPepper returns the secret mixed into every password hash and token
// fingerprint. A missing file is created with fresh random material so
// hashes stay verifiable across restarts; an unreadable one is fatal,
// because every stored credential depends on it.
func GetPepper() string {
	pepperOnce.Do(func() {
		p, err := loadOrCreatePepper(filepath.Clean(pepperFile))
		if err != nil {
			slog.Error("cannot load password pepper", "file", pepperFile, "error", err)
			os.Exit(1)
		}
		pepper = p
	})
	return pepper
}

func loadOrCreatePepper(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return "", err
	}

	raw := make([]byte, pepperBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(raw)

	if err := os.WriteFile(file, []byte(p), 0o600); err != nil {
		return "", err
	}
	return p, nil
}
