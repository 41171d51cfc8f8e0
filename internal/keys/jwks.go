package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
)

// JWK is the public half of the signing key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the published key set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes the stored public key.
func (m *Manager) JWKS() (JWKSet, error) {
	pub, err := m.LoadPublicKey()
	if err != nil {
		return JWKSet{}, err
	}
	return JWKSet{Keys: []JWK{PublicJWK(pub)}}, nil
}

// PublicJWK encodes modulus and exponent as unpadded base64url.
func PublicJWK(pub *rsa.PublicKey) JWK {
	enc := base64.RawURLEncoding
	return JWK{
		Kty: "RSA",
		Kid: KeyID,
		Use: "sig",
		Alg: "RS256",
		N:   enc.EncodeToString(pub.N.Bytes()),
		E:   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
