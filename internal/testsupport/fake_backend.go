// Package testsupport provides in-process fakes for tests.
package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telestream/internal/config"
	"telestream/internal/telegram"
)

// FakeBackend is a controllable telegram.Client. Zero value is usable; set
// the exported fields to steer behaviour. Locators are plain strings keyed
// into Content, so FetchChunk serves real bytes for streaming tests.
type FakeBackend struct {
	mu sync.Mutex

	connectCalls   int
	reconnectCalls int
	fetchOffsets   []int64
	connected      bool

	// ConnectDelay makes Connect block, widening race windows in
	// single-flight tests.
	ConnectDelay time.Duration
	ConnectErr   error
	ReconnectErr error

	AuthorizedResult bool
	AuthorizedErr    error

	SentCode    telegram.SentCode
	SendCodeErr error

	SignInUser telegram.User
	SignInErr  error

	PasswordUser telegram.User
	PasswordErr  error

	ContainerList []telegram.Container
	Media         map[int64][]telegram.MediaMessage

	Content  map[string][]byte
	FetchErr map[int64]error

	// Store, when set, receives a session token on successful sign-in the
	// way the real adapter persists its session blob.
	Store config.Store
}

var _ telegram.Client = (*FakeBackend)(nil)

func (f *FakeBackend) Connect(context.Context) error {
	if f.ConnectDelay > 0 {
		time.Sleep(f.ConnectDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connectCalls++
	f.connected = true
	return nil
}

func (f *FakeBackend) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReconnectErr != nil {
		return f.ReconnectErr
	}
	f.reconnectCalls++
	f.connected = true
	return nil
}

func (f *FakeBackend) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakeBackend) Authorized(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthorizedErr != nil {
		return false, f.AuthorizedErr
	}
	return f.AuthorizedResult, nil
}

func (f *FakeBackend) SendCode(_ context.Context, phone string) (telegram.SentCode, error) {
	if f.SendCodeErr != nil {
		return telegram.SentCode{}, f.SendCodeErr
	}
	if f.SentCode.PhoneCodeHash == "" {
		return telegram.SentCode{PhoneCodeHash: "hash-" + phone, Timeout: 60}, nil
	}
	return f.SentCode, nil
}

func (f *FakeBackend) SignIn(context.Context, string, string, string) (telegram.User, error) {
	if f.SignInErr != nil {
		return telegram.User{}, f.SignInErr
	}
	f.persistToken()
	f.mu.Lock()
	f.AuthorizedResult = true
	f.mu.Unlock()
	return f.SignInUser, nil
}

func (f *FakeBackend) CheckPassword(context.Context, string) (telegram.User, error) {
	if f.PasswordErr != nil {
		return telegram.User{}, f.PasswordErr
	}
	f.persistToken()
	f.mu.Lock()
	f.AuthorizedResult = true
	f.mu.Unlock()
	return f.PasswordUser, nil
}

func (f *FakeBackend) persistToken() {
	if f.Store == nil {
		return
	}
	_, _ = f.Store.Update(func(settings *config.Settings) {
		settings.StringSession = "fake-session-token"
	})
}

func (f *FakeBackend) Containers(context.Context, int) ([]telegram.Container, error) {
	return f.ContainerList, nil
}

func (f *FakeBackend) Container(_ context.Context, id int64) (telegram.Container, error) {
	for _, container := range f.ContainerList {
		if container.ID == id {
			return container, nil
		}
	}
	return telegram.Container{}, telegram.ErrNotFound
}

func (f *FakeBackend) MediaMessages(_ context.Context, containerID int64, limit int) ([]telegram.MediaMessage, error) {
	messages := f.Media[containerID]
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (f *FakeBackend) MediaMessage(_ context.Context, containerID int64, id int) (telegram.MediaMessage, error) {
	for _, message := range f.Media[containerID] {
		if message.ID == id {
			return message, nil
		}
	}
	return telegram.MediaMessage{}, telegram.ErrNotFound
}

func (f *FakeBackend) FetchChunk(_ context.Context, locator telegram.Locator, offset int64, limit int) ([]byte, error) {
	f.mu.Lock()
	f.fetchOffsets = append(f.fetchOffsets, offset)
	failure := f.FetchErr[offset]
	f.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	key, ok := locator.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected locator %T", locator)
	}
	content, ok := f.Content[key]
	if !ok {
		return nil, fmt.Errorf("no content for locator %q", key)
	}
	if offset >= int64(len(content)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, content[offset:end])
	return chunk, nil
}

// ConnectCalls reports how many physical connect attempts were made.
func (f *FakeBackend) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// ReconnectCalls reports how many forced reconnects were made.
func (f *FakeBackend) ReconnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnectCalls
}

// FetchOffsets returns the chunk offsets requested so far, in call order.
func (f *FakeBackend) FetchOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offsets := make([]int64, len(f.fetchOffsets))
	copy(offsets, f.fetchOffsets)
	return offsets
}
