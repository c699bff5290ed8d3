package store

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

const plainPrefix = "plain:"

// Credentials identify the scheduler to the resource store.
type Credentials struct {
	Username string
	// Password is the value sent on the wire: the hex SHA-1 digest of the secret, or the
	// secret itself for "plain:" passwords.
	Password string
}

// ParseCredentials parses a "<user>:<password>" secret. A password of the form
// "plain:<secret>" is sent verbatim, any other password is sent as its SHA-1 digest.
func ParseCredentials(secret string) (Credentials, error) {
	secret = strings.TrimSpace(secret)
	user, pass, ok := strings.Cut(secret, ":")
	if !ok || user == "" {
		return Credentials{}, fmt.Errorf("%w: wrong format for auth token, must be <username>:<password>", domain.ErrConfiguration)
	}

	if strings.HasPrefix(pass, plainPrefix) {
		plain := strings.TrimPrefix(pass, plainPrefix)
		if plain == "" {
			return Credentials{}, fmt.Errorf("%w: empty password for auth token in the form <username>:plain:<password>", domain.ErrConfiguration)
		}
		return Credentials{Username: user, Password: plain}, nil
	}

	sum := sha1.Sum([]byte(pass))
	return Credentials{Username: user, Password: hex.EncodeToString(sum[:])}, nil
}

// LoadCredentials returns the credentials from secret, or from the first line of authFile
// when secret is empty.
func LoadCredentials(secret, authFile string) (Credentials, error) {
	if secret != "" {
		return ParseCredentials(secret)
	}
	if authFile == "" {
		return Credentials{}, fmt.Errorf("%w: no store credentials and no auth file configured", domain.ErrConfiguration)
	}

	f, err := os.Open(authFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: could not open auth file: %w", domain.ErrConfiguration, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Credentials{}, fmt.Errorf("%w: error reading auth file %s: %w", domain.ErrConfiguration, authFile, err)
		}
		return Credentials{}, fmt.Errorf("%w: auth file %s is empty", domain.ErrConfiguration, authFile)
	}
	return ParseCredentials(scanner.Text())
}
