package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
	"github.com/sparkleshare/sparkleshare-go/internal/store"
)

const (
	credentialsKind    = "credentials"
	credentialsVersion = 1
)

// Credentials bind this device to a dashboard account.
type Credentials struct {
	Address   string    `json:"address"`
	IdentCode string    `json:"ident"`
	AuthCode  string    `json:"auth_code"`
	LinkedAt  time.Time `json:"linked_at"`
}

// IsComplete reports whether all three parts of the triple are present.
func (c Credentials) IsComplete() bool {
	return c.Address != "" && c.IdentCode != "" && c.AuthCode != ""
}

// normalizeAddress validates a server address and strips trailing slashes.
func normalizeAddress(address string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("address %q: scheme must be http or https", address)
	}
	if u.Host == "" {
		return "", fmt.Errorf("address %q: missing host", address)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// loadCredentials reads the persisted triple. Anything missing or
// undecodable yields the zero value; decode problems are logged only.
func loadCredentials(s store.Store) Credentials {
	if s == nil {
		return Credentials{}
	}
	var creds Credentials
	_, err := store.Load(s, store.KeyCredentials, credentialsKind, &creds)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return Credentials{}
	default:
		metrics.RecordPersistenceFailure(store.KeyCredentials, "load")
		logging.Warn("stored credentials unreadable, starting unlinked",
			logging.Err(&Error{Kind: KindPersistence, Op: "load credentials", Err: err}))
		return Credentials{}
	}

	if !creds.IsComplete() {
		logging.Warn("stored credentials incomplete, starting unlinked")
		return Credentials{}
	}
	if addr, err := normalizeAddress(creds.Address); err == nil {
		creds.Address = addr
	} else {
		logging.Warn("stored address invalid, starting unlinked", logging.Err(err))
		return Credentials{}
	}
	return creds
}

func saveCredentials(s store.Store, creds Credentials) error {
	if s == nil {
		return nil
	}
	if err := store.Save(s, store.KeyCredentials, credentialsKind, credentialsVersion, creds); err != nil {
		metrics.RecordPersistenceFailure(store.KeyCredentials, "save")
		return &Error{Kind: KindPersistence, Op: "save credentials", Err: err}
	}
	return nil
}
