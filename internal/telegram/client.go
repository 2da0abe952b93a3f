// Package telegram defines the boundary to the remote Telegram backend.
// The gateway core depends only on the Client interface; the MTProto
// implementation lives behind it and tests substitute fakes.
package telegram

import (
	"context"
	"errors"
	"time"
)

// SavedMessages addresses the personal "Saved Messages" store, used as the
// fallback container when resolving a file without a container hint.
const SavedMessages int64 = 0

// Locator is an opaque reference to the bytes of a remote file. Client
// implementations produce locators and accept them back in FetchChunk;
// nothing else inspects their structure.
type Locator any

// Container is a remote grouping of messages: a group chat or channel.
type Container struct {
	ID          int64
	Title       string
	Type        string
	MemberCount int
	About       string
}

// MediaMessage is a media-bearing message as returned by the backend.
// Filename is empty when the document carries no filename attribute;
// Duration, Width, and Height are zero for non-video documents.
type MediaMessage struct {
	ID       int
	Date     time.Time
	Filename string
	Size     int64
	MimeType string
	Duration int
	Width    int
	Height   int
	Locator  Locator
}

// SentCode is the provider's reply to a send-code request.
type SentCode struct {
	PhoneCodeHash string
	Timeout       int
}

// User is the profile summary returned on successful sign-in.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// Sentinel errors the backend translates provider failures into.
var (
	// ErrNotConnected indicates an operation that requires a live
	// connection was invoked before Connect succeeded.
	ErrNotConnected = errors.New("telegram: not connected")
	// ErrNotFound indicates the requested container or message does not
	// exist or carries no media.
	ErrNotFound = errors.New("telegram: not found")
	// ErrCodeInvalid indicates the verification code was rejected.
	ErrCodeInvalid = errors.New("telegram: invalid verification code")
	// ErrPasswordInvalid indicates the two-factor password was rejected.
	ErrPasswordInvalid = errors.New("telegram: invalid password")
	// ErrPasswordNeeded indicates sign-in succeeded up to the account
	// password: the caller must follow up with CheckPassword.
	ErrPasswordNeeded = errors.New("telegram: two-factor password needed")
	// ErrUnregistered indicates the phone number has no Telegram account.
	ErrUnregistered = errors.New("telegram: phone number not registered")
	// ErrAuthRestart indicates the provider restarted the login flow and
	// the verification code must be requested again on a fresh connection.
	ErrAuthRestart = errors.New("telegram: authentication restarted, resend code")
)

// Client is the remote backend boundary. Implementations must tolerate
// concurrent calls from multiple HTTP streams and chunk fetch workers over
// the single underlying authenticated connection.
type Client interface {
	// Connect idempotently establishes (or reuses) the connection using
	// stored credentials and session token. A rotated session token is
	// persisted as a side effect.
	Connect(ctx context.Context) error
	// Reconnect tears down any existing connection and establishes a
	// fresh one; required before starting a login flow.
	Reconnect(ctx context.Context) error
	// Authorized reports whether the current session is signed in.
	Authorized(ctx context.Context) (bool, error)

	SendCode(ctx context.Context, phone string) (SentCode, error)
	SignIn(ctx context.Context, phone, codeHash, code string) (User, error)
	CheckPassword(ctx context.Context, password string) (User, error)

	// Containers lists up to limit recent dialogs that are groups or
	// channels, in the backend's native order.
	Containers(ctx context.Context, limit int) ([]Container, error)
	// Container fetches a single dialog by id.
	Container(ctx context.Context, id int64) (Container, error)
	// MediaMessages lists up to limit recent media-bearing messages in a
	// container, in the backend's native order.
	MediaMessages(ctx context.Context, containerID int64, limit int) ([]MediaMessage, error)
	// MediaMessage fetches a single message by id. A containerID of
	// SavedMessages addresses the personal store.
	MediaMessage(ctx context.Context, containerID int64, id int) (MediaMessage, error)

	// FetchChunk retrieves up to limit bytes at offset. Offsets and limits
	// are expected to be chunk-aligned per the provider's requirements.
	FetchChunk(ctx context.Context, locator Locator, offset int64, limit int) ([]byte, error)

	Close(ctx context.Context) error
}
