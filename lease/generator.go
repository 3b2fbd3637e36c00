package lease

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

// passwordAlphabet is the full password character set: letters, digits,
// and a punctuation subset chosen to avoid shell and SQL quoting hazards.
// None of these characters are statement separators, so generated secrets
// can be rendered into statement text safely.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"-_.~!*+"

const (
	// DefaultPasswordLength is used by every backend that does not
	// impose its own cap.
	DefaultPasswordLength = 48

	// UsernameLength is the fixed length of generated usernames
	UsernameLength = 32
)

// CredentialRules captures per-backend constraints on generated credentials
type CredentialRules struct {
	// PasswordLength overrides DefaultPasswordLength when > 0. Oracle
	// clients reject passwords longer than 30 characters.
	PasswordLength int

	// UppercaseUsername forces the username to uppercase for backends
	// whose default identifier folding assumes uppercase when the
	// identifier is not quoted.
	UppercaseUsername bool
}

// GenerateCredentialPair produces a fresh CredentialPair from a
// cryptographically strong random source. The generator holds no state;
// concurrent calls are independent.
func GenerateCredentialPair(rules CredentialRules) (*CredentialPair, error) {
	username, err := base62.Random(UsernameLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate username: %w", err)
	}
	if rules.UppercaseUsername {
		username = strings.ToUpper(username)
	}

	length := rules.PasswordLength
	if length <= 0 {
		length = DefaultPasswordLength
	}

	password, err := randomFromAlphabet(passwordAlphabet, length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	return &CredentialPair{
		Username: username,
		Password: password,
	}, nil
}

// randomFromAlphabet draws length characters uniformly from alphabet
func randomFromAlphabet(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
