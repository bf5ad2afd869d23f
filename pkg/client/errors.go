package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// Kind classifies a client error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork: transport or timeout failure, no response received.
	KindNetwork
	// KindAuth: link code or credentials rejected.
	KindAuth
	// KindServer: non-success HTTP status.
	KindServer
	// KindMalformedResponse: body is not the JSON the call expected.
	KindMalformedResponse
	// KindPersistence: stored state could not be read or written.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("connection closed")
	// ErrNotLinked is returned when a signed request is made without credentials.
	ErrNotLinked = errors.New("device is not linked")
)

// Error is the structured error delivered to failure callbacks.
type Error struct {
	Kind    Kind
	Op      string // e.g. "GET getFile/f42"
	Status  int    // HTTP status, 0 if no response
	Message string // server-supplied or locally generated detail
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" on ")
		b.WriteString(e.Op)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsServer reports whether err is a non-success HTTP status.
func IsServer(err error) bool { return KindOf(err) == KindServer }

// IsMalformedResponse reports whether err is an undecodable response body.
func IsMalformedResponse(err error) bool { return KindOf(err) == KindMalformedResponse }

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }

const maxErrorMessage = 256

// statusError builds the error for a non-success response.
func statusError(op string, status int, body []byte) *Error {
	kind := KindServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindAuth
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Status:  status,
		Message: errorMessage(status, body),
	}
}

func errorMessage(status int, body []byte) string {
	var errResp protocol.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		if errResp.Details != "" {
			return errResp.Error + ": " + errResp.Details
		}
		return errResp.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return msg
}
