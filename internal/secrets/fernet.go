// Package secrets decrypts provider API tokens stored on business records.
// Tokens are fernet tokens, so keys generated for the admin tooling work here
// unchanged.
package secrets

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

type Decrypter struct {
	key *fernet.Key
}

var ErrInvalidToken = errors.New("invalid encrypted token")

func NewDecrypter(key string) (*Decrypter, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return &Decrypter{key: k}, nil
}

// Decrypt returns the plaintext token. Tokens do not expire; a stored token
// stays valid until the business record is updated.
func (d *Decrypter) Decrypt(encrypted string) (string, error) {
	plain := fernet.VerifyAndDecrypt([]byte(encrypted), 0, []*fernet.Key{d.key})
	if plain == nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}

// Encrypt is used by seeding and tests; the serving path only decrypts.
func (d *Decrypter) Encrypt(plain string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plain), d.key)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}
