package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// pbkdf2Iterations is the work factor for API key digests. Keys are
// high-entropy so this mainly defends stolen digests against cheap brute
// force.
const pbkdf2Iterations = 64_000

// KeyService exchanges long-lived worker API keys for short-lived JWTs. API
// keys are stored only as salted one-way digests.
type KeyService struct {
	keys   domain.WorkerKeyStore
	jwt    JWT
	logger *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(keys domain.WorkerKeyStore, jwt JWT, logger *slog.Logger) *KeyService {
	return &KeyService{keys: keys, jwt: jwt, logger: logger}
}

// digestKey derives the stored digest for a key secret and hex salt.
func digestKey(secret, salt string) string {
	d := pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Iterations, sha256.Size, sha256.New)
	return hex.EncodeToString(d)
}

// GenerateKey mints a new API key for a worker type and returns both the
// plaintext key (shown exactly once) and the record to persist. The key wire
// format is "<id>.<secret>".
func GenerateKey(workerType domain.WorkerType, permissions []string) (plaintext string, record domain.WorkerKey, err error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", domain.WorkerKey{}, fmt.Errorf("auth: generate key secret: %w", err)
	}
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", domain.WorkerKey{}, fmt.Errorf("auth: generate key salt: %w", err)
	}

	id := uuid.New().String()
	secret := hex.EncodeToString(secretBytes)
	salt := hex.EncodeToString(saltBytes)

	record = domain.WorkerKey{
		ID:          id,
		WorkerType:  workerType,
		KeyDigest:   digestKey(secret, salt),
		Salt:        salt,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
	}
	return id + "." + secret, record, nil
}

// Exchange validates an API key and issues a worker JWT. On success the key's
// last_used_at is updated asynchronously; a failed touch is logged and
// otherwise ignored.
func (s *KeyService) Exchange(ctx context.Context, apiKey string) (token string, expiresAt time.Time, err error) {
	id, secret, ok := splitKey(apiKey)
	if !ok {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	record, err := s.keys.GetByID(ctx, id)
	if err != nil {
		// Not-found and lookup failures both surface as unauthorized; the
		// caller learns nothing about which keys exist.
		return "", time.Time{}, domain.ErrUnauthorized
	}
	if record.Disabled {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	digest := digestKey(secret, record.Salt)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(record.KeyDigest)) != 1 {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	token, expiresAt, err = s.jwt.Sign(record.WorkerType, record.Permissions)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign worker token: %w", err)
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.keys.TouchLastUsed(touchCtx, record.ID, time.Now().UTC()); err != nil {
			s.logger.Warn("auth: touch last_used_at failed",
				slog.String("key_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return token, expiresAt, nil
}

// splitKey parses the "<id>.<secret>" wire format.
func splitKey(apiKey string) (id, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(apiKey), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
