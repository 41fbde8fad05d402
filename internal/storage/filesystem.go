package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// ErrInvalidToken is returned for missing, forged or expired download tokens
var ErrInvalidToken = errors.New("invalid download token")

// FileStore keeps objects under a local directory and hands out HS256
// signed download links served by the HTTP server's /files route.
type FileStore struct {
	root    string
	baseURL string
	secret  []byte
	clock   clockwork.Clock
}

type downloadClaims struct {
	Bucket string `json:"bkt"`
	Key    string `json:"key"`
	jwt.RegisteredClaims
}

// NewFileStore creates a store rooted at dir. Links point at baseURL.
func NewFileStore(dir, baseURL string, secret []byte, clock clockwork.Clock) (*FileStore, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("file store signing secret must be at least 16 bytes")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileStore{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		clock:   clock,
	}, nil
}

func (s *FileStore) path(bucket, key string) (string, error) {
	if !validKey(bucket) || strings.Contains(bucket, "/") || !validKey(key) {
		return "", invalidPath(bucket, key)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

func (s *FileStore) Put(_ context.Context, bucket, key string, content []byte, _ string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	// write-then-rename so readers never see a partial object
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, content, 0o640); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(bucket, key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return content, nil
}

func (s *FileStore) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", notFound(bucket, key, err)
	}

	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, downloadClaims{
		Bucket: bucket,
		Key:    key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", model.NewStorageError(model.ErrCodeTransport, bucket+"/"+key, "sign download token", err)
	}
	return fmt.Sprintf("%s/files/%s/%s?token=%s", s.baseURL, url.PathEscape(bucket), key, url.QueryEscape(signed)), nil
}

// VerifyToken checks that raw grants access to bucket/key right now
func (s *FileStore) VerifyToken(raw, bucket, key string) error {
	parsed, err := jwt.ParseWithClaims(raw, &downloadClaims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*downloadClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Bucket != bucket || claims.Key != key {
		return fmt.Errorf("%w: token is for a different object", ErrInvalidToken)
	}
	return nil
}
