package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

type contextKey string

const deviceContextKey contextKey = "device"

// Link code errors.
var (
	ErrUnknownCode = errors.New("unknown link code")
	ErrCodeUsed    = errors.New("link code already used")
	ErrCodeExpired = errors.New("link code expired")
)

// DeviceClaims is the payload of the auth code handed to a linked device.
type DeviceClaims struct {
	Ident      string `json:"ident"`
	DeviceName string `json:"device_name"`
	jwt.RegisteredClaims
}

// Device is a linked device.
type Device struct {
	Ident    string    `json:"ident"`
	Name     string    `json:"name"`
	LinkedAt time.Time `json:"linked_at"`
	Revoked  bool      `json:"revoked"`

	tokenHash string
}

type linkCode struct {
	expires time.Time
	used    bool
}

// Auth issues single-use link codes and validates signed requests.
type Auth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	codes   map[string]*linkCode
	devices map[string]*Device
}

// NewAuth creates an authenticator. An empty secret generates a random
// one, which invalidates every device on restart.
func NewAuth(secret string, codeTTL time.Duration) *Auth {
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		logging.Warn("no JWT secret configured, using an ephemeral one")
	}
	return &Auth{
		secret:  []byte(secret),
		ttl:     codeTTL,
		now:     time.Now,
		codes:   make(map[string]*linkCode),
		devices: make(map[string]*Device),
	}
}

// SetClock replaces the clock used for code expiry.
func (a *Auth) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// IssueCode creates a new single-use link code.
func (a *Auth) IssueCode() string {
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	a.AddCode(code)
	return code
}

// AddCode registers a caller-chosen link code.
func (a *Auth) AddCode(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes[code] = &linkCode{expires: a.now().Add(a.ttl)}
}

// Redeem exchanges a link code for device credentials. A code works once.
func (a *Auth) Redeem(code, deviceName string) (protocol.LinkResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lc, ok := a.codes[code]
	switch {
	case !ok:
		return protocol.LinkResponse{}, ErrUnknownCode
	case lc.used:
		return protocol.LinkResponse{}, ErrCodeUsed
	case a.ttl > 0 && a.now().After(lc.expires):
		return protocol.LinkResponse{}, ErrCodeExpired
	}

	if deviceName == "" {
		deviceName = "unknown"
	}
	now := a.now()
	ident := uuid.NewString()
	claims := DeviceClaims{
		Ident:      ident,
		DeviceName: deviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  ident,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return protocol.LinkResponse{}, fmt.Errorf("sign auth code: %w", err)
	}

	lc.used = true
	a.devices[ident] = &Device{
		Ident:     ident,
		Name:      deviceName,
		LinkedAt:  now,
		tokenHash: hashToken(token),
	}
	logging.Info("device linked", logging.String("ident", ident), logging.String("device", deviceName))
	return protocol.LinkResponse{Ident: ident, AuthCode: token}, nil
}

// Revoke disables a device. Its auth code is rejected from then on.
func (a *Auth) Revoke(ident string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[ident]
	if !ok {
		return false
	}
	d.Revoked = true
	return true
}

// Devices returns a snapshot of the linked devices.
func (a *Auth) Devices() []Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, *d)
	}
	return out
}

func (a *Auth) validate(ident, token string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Ident != ident {
		return nil, fmt.Errorf("token does not belong to %q", ident)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[ident]
	if !ok || d.tokenHash != hashToken(token) {
		return nil, fmt.Errorf("unknown device")
	}
	if d.Revoked {
		return nil, fmt.Errorf("device revoked")
	}
	return claims, nil
}

// Middleware rejects requests without a valid ident/auth code pair.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := r.Header.Get(protocol.HeaderIdent)
		token := r.Header.Get(protocol.HeaderAuth)
		if ident == "" || token == "" {
			sendError(w, http.StatusUnauthorized, "missing device credentials")
			return
		}
		claims, err := a.validate(ident, token)
		if err != nil {
			logging.Debug("request rejected", logging.String("ident", ident), logging.Err(err))
			sendError(w, http.StatusForbidden, "invalid device credentials")
			return
		}
		ctx := context.WithValue(r.Context(), deviceContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom returns the authenticated device of a request, or nil.
func ClaimsFrom(ctx context.Context) *DeviceClaims {
	claims, _ := ctx.Value(deviceContextKey).(*DeviceClaims)
	return claims
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
