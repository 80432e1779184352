package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// JWT algorithms (string values used in JWKs and headers)
const RS256 = "RS256"

// KeyPair represents a public/private key pair for signing tokens
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	Algorithm  string
}

// GenerateRSAKeyPair generates a new RSA key pair for RS256 signing
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  RS256,
	}, nil
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}

// ToJWK converts the key pair's public key to a public JSON Web Key
func (kp *KeyPair) ToJWK() (jose.JSONWebKey, error) {
	jwk := jose.JSONWebKey{
		Key:       kp.PublicKey,
		KeyID:     kp.KeyID,
		Algorithm: kp.Algorithm,
		Use:       "sig",
	}
	if !jwk.Valid() {
		return jose.JSONWebKey{}, fmt.Errorf("unsupported public key type %T", kp.PublicKey)
	}
	return jwk, nil
}

// JWKS builds a key set document from the given key pairs
func JWKS(pairs ...*KeyPair) (jose.JSONWebKeySet, error) {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(pairs))}
	for _, kp := range pairs {
		jwk, err := kp.ToJWK()
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("key %s: %w", kp.KeyID, err)
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}
