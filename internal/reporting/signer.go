package reporting

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

var (
	ErrNoSigningKey     = errors.New("no signing key configured")
	ErrSignatureInvalid = errors.New("report signature invalid")
)

// RankingClaims attest the content of a published ranking.
type RankingClaims struct {
	Digest string `json:"digest"`
	Sites  int    `json:"sites"`
	jwt.RegisteredClaims
}

// Signer issues HS256 tokens over the entries of a ranking report.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewSigner(key, issuer string) (*Signer, error) {
	if key == "" {
		return nil, ErrNoSigningKey
	}
	return &Signer{key: []byte(key), issuer: issuer, now: time.Now}, nil
}

// Digest hashes the ranked entries. Title, timestamps and the signature
// itself are not covered.
func Digest(report *models.RankingReport) (string, error) {
	data, err := json.Marshal(struct {
		GroupOrder []string              `json:"group_order"`
		Entries    []models.RankingEntry `json:"entries"`
	}{report.GroupOrder, report.Entries})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign stores a token over report in report.Signature and returns it.
func (s *Signer) Sign(report *models.RankingReport) (string, error) {
	digest, err := Digest(report)
	if err != nil {
		return "", fmt.Errorf("failed to digest report: %w", err)
	}
	now := s.now()
	claims := RankingClaims{
		Digest: digest,
		Sites:  len(report.Entries),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  report.Title,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign report: %w", err)
	}
	report.Signature = token
	return token, nil
}

// Verify checks that token was issued by this signer for report.
func (s *Signer) Verify(token string, report *models.RankingReport) (*RankingClaims, error) {
	claims := &RankingClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	digest, err := Digest(report)
	if err != nil {
		return nil, err
	}
	if claims.Digest != digest {
		return nil, fmt.Errorf("%w: content changed", ErrSignatureInvalid)
	}
	return claims, nil
}
