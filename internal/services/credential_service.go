package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// CredentialKind tags anonymous feedback credentials so tokens minted for
// other purposes with the same secret are never accepted.
const CredentialKind = "anonymous_feedback"

const DefaultCredentialTTL = 90 * 24 * time.Hour

type CredentialClaims struct {
	PoolID       string `json:"pid"`
	MemberHandle string `json:"mid"`
	OrgID        string `json:"oid"`
	PoolSeed     string `json:"ps"`
	Kind         string `json:"knd"`
	jwt.RegisteredClaims
}

type CredentialService struct {
	signKey   []byte
	digestKey []byte
	ttl       time.Duration
	now       func() time.Time
	idGen     func() string
}

// NewCredentialService derives independent signing and digest keys from secret.
func NewCredentialService(secret string, ttl time.Duration) (*CredentialService, error) {
	if len(secret) < 16 {
		return nil, errors.New("credential secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	signKey, err := deriveKey(secret, "candor/credential/sign")
	if err != nil {
		return nil, err
	}
	digestKey, err := deriveKey(secret, "candor/credential/digest")
	if err != nil {
		return nil, err
	}
	return &CredentialService{
		signKey:   signKey,
		digestKey: digestKey,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
	}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Issue signs a credential for one pool member. The returned token is shown
// to the caller once and must not be persisted; store Digest(token) instead.
func (s *CredentialService) Issue(poolID, memberHandle, orgID, poolSeed string) (string, error) {
	if poolID == "" || memberHandle == "" || orgID == "" {
		return "", NewInvalidError("pool, member and org are required")
	}
	now := s.now()
	claims := CredentialClaims{
		PoolID:       poolID,
		MemberHandle: memberHandle,
		OrgID:        orgID,
		PoolSeed:     poolSeed,
		Kind:         CredentialKind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.idGen(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// Validate returns the claims of a well-formed, unexpired credential of the
// anonymous feedback kind, or nil. It never reports why a token was rejected.
func (s *CredentialService) Validate(token string) *CredentialClaims {
	if token == "" {
		return nil
	}
	t, err := jwt.ParseWithClaims(token, &CredentialClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !t.Valid {
		return nil
	}
	c, ok := t.Claims.(*CredentialClaims)
	if !ok || c.Kind != CredentialKind || c.PoolID == "" || c.MemberHandle == "" || c.OrgID == "" {
		return nil
	}
	return c
}

// Digest is a keyed one-way hash of a credential, hex encoded.
func (s *CredentialService) Digest(token string) string {
	mac := hmac.New(sha256.New, s.digestKey)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a presented credential with a stored digest in constant time.
func (s *CredentialService) Matches(token, digest string) bool {
	return hmac.Equal([]byte(s.Digest(token)), []byte(digest))
}
