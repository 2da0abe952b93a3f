package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	tdclient "github.com/gotd/td/telegram"
	tdauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telestream/internal/config"
)

// MTProto is the production Client implementation backed by gotd/td. A
// single instance owns one authenticated MTProto connection shared by all
// concurrent HTTP streams; the library multiplexes in-flight requests over
// it.
type MTProto struct {
	store  config.Store
	logger *slog.Logger

	mu      sync.Mutex
	client  *tdclient.Client
	api     *tg.Client
	stop    context.CancelFunc
	runDone chan error

	peersMu sync.Mutex
	peers   map[int64]tg.InputPeerClass
}

// NewMTProto constructs the adapter. The connection is established lazily by
// Connect.
func NewMTProto(store config.Store, logger *slog.Logger) *MTProto {
	if logger == nil {
		logger = slog.Default()
	}
	return &MTProto{
		store:  store,
		logger: logger,
		peers:  make(map[int64]tg.InputPeerClass),
	}
}

// sessionStorage persists the gotd session blob into the configuration
// record, which is how the reusable session token survives restarts.
type sessionStorage struct {
	store config.Store
}

func (s sessionStorage) LoadSession(context.Context) ([]byte, error) {
	blob := s.store.Snapshot().StringSession
	if blob == "" {
		return nil, session.ErrNotFound
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode stored session: %w", err)
	}
	return data, nil
}

func (s sessionStorage) StoreSession(_ context.Context, data []byte) error {
	_, err := s.store.Update(func(settings *config.Settings) {
		settings.StringSession = base64.StdEncoding.EncodeToString(data)
	})
	return err
}

// Connect establishes the MTProto connection if one is not already running.
// The gotd client runs inside its own goroutine; Connect returns once the
// transport is initialised or fails.
func (m *MTProto) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *MTProto) connectLocked(ctx context.Context) error {
	if m.client != nil {
		return nil
	}
	settings := m.store.Snapshot()
	if !settings.Configured() {
		return fmt.Errorf("api credentials not configured")
	}

	client := tdclient.NewClient(settings.APIID, settings.APIHash, tdclient.Options{
		SessionStorage: sessionStorage{store: m.store},
		Device: tdclient.DeviceConfig{
			DeviceModel:   "Desktop",
			SystemVersion: "Windows 10",
			AppVersion:    "1.0.0",
			LangCode:      "en",
		},
		MaxRetries: 5,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return fmt.Errorf("connect telegram: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	m.client = client
	m.api = client.API()
	m.stop = cancel
	m.runDone = done
	m.logger.Info("telegram connection established")
	return nil
}

// Reconnect tears down the current connection and dials a fresh one.
func (m *MTProto) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
	return m.connectLocked(ctx)
}

// Close stops the connection goroutine and releases the client.
func (m *MTProto) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
	return nil
}

func (m *MTProto) disconnectLocked() {
	if m.client == nil {
		return
	}
	m.stop()
	select {
	case <-m.runDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("telegram connection did not stop in time")
	}
	m.client = nil
	m.api = nil
	m.stop = nil
	m.runDone = nil
}

// handles returns the live client and raw API reference, or ErrNotConnected.
func (m *MTProto) handles() (*tdclient.Client, *tg.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, nil, ErrNotConnected
	}
	return m.client, m.api, nil
}

// Authorized queries the remote authorization status of the session.
func (m *MTProto) Authorized(ctx context.Context) (bool, error) {
	client, _, err := m.handles()
	if err != nil {
		return false, err
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("query authorization status: %w", err)
	}
	return status.Authorized, nil
}

// SendCode asks the provider to deliver a verification code to the phone.
func (m *MTProto) SendCode(ctx context.Context, phone string) (SentCode, error) {
	client, _, err := m.handles()
	if err != nil {
		return SentCode{}, err
	}
	sent, err := client.Auth().SendCode(ctx, phone, tdauth.SendCodeOptions{
		CurrentNumber: true,
		AllowAppHash:  true,
	})
	if err != nil {
		if tgerr.Is(err, "AUTH_RESTART") {
			return SentCode{}, ErrAuthRestart
		}
		return SentCode{}, fmt.Errorf("send code: %w", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return SentCode{}, fmt.Errorf("send code: unexpected reply %T", sent)
	}
	return SentCode{PhoneCodeHash: code.PhoneCodeHash, Timeout: code.Timeout}, nil
}

// SignIn completes code verification. ErrPasswordNeeded means the account
// has two-factor auth enabled and CheckPassword must follow.
func (m *MTProto) SignIn(ctx context.Context, phone, codeHash, code string) (User, error) {
	_, api, err := m.handles()
	if err != nil {
		return User{}, err
	}
	result, err := api.AuthSignIn(ctx, &tg.AuthSignInRequest{
		PhoneNumber:   phone,
		PhoneCodeHash: codeHash,
		PhoneCode:     code,
	})
	if err != nil {
		switch {
		case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
			return User{}, ErrPasswordNeeded
		case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED", "PHONE_CODE_EMPTY"):
			return User{}, ErrCodeInvalid
		default:
			return User{}, fmt.Errorf("sign in: %w", err)
		}
	}
	switch authz := result.(type) {
	case *tg.AuthAuthorization:
		return userFromClass(authz.User), nil
	case *tg.AuthAuthorizationSignUpRequired:
		return User{}, ErrUnregistered
	default:
		return User{}, fmt.Errorf("sign in: unexpected reply %T", result)
	}
}

// CheckPassword completes two-factor authentication.
func (m *MTProto) CheckPassword(ctx context.Context, password string) (User, error) {
	client, _, err := m.handles()
	if err != nil {
		return User{}, err
	}
	authz, err := client.Auth().Password(ctx, password)
	if err != nil {
		if tgerr.Is(err, "PASSWORD_HASH_INVALID") {
			return User{}, ErrPasswordInvalid
		}
		return User{}, fmt.Errorf("check password: %w", err)
	}
	return userFromClass(authz.User), nil
}

func userFromClass(class tg.UserClass) User {
	user, ok := class.(*tg.User)
	if !ok {
		return User{}
	}
	return User{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.Username,
	}
}

// Containers lists recent group and channel dialogs.
func (m *MTProto) Containers(ctx context.Context, limit int) ([]Container, error) {
	_, api, err := m.handles()
	if err != nil {
		return nil, err
	}
	result, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch dialogs := result.(type) {
	case *tg.MessagesDialogs:
		chats = dialogs.Chats
	case *tg.MessagesDialogsSlice:
		chats = dialogs.Chats
	default:
		return nil, nil
	}

	containers := make([]Container, 0, len(chats))
	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	for _, class := range chats {
		switch chat := class.(type) {
		case *tg.Chat:
			containers = append(containers, Container{
				ID:          chat.ID,
				Title:       chat.Title,
				Type:        "group",
				MemberCount: chat.ParticipantsCount,
			})
			m.peers[chat.ID] = &tg.InputPeerChat{ChatID: chat.ID}
		case *tg.Channel:
			containers = append(containers, Container{
				ID:          chat.ID,
				Title:       chat.Title,
				Type:        "channel",
				MemberCount: chat.ParticipantsCount,
			})
			m.peers[chat.ID] = &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
		}
	}
	return containers, nil
}

// Container fetches a single dialog by id.
func (m *MTProto) Container(ctx context.Context, id int64) (Container, error) {
	containers, err := m.Containers(ctx, dialogPageSize)
	if err != nil {
		return Container{}, err
	}
	for _, container := range containers {
		if container.ID == id {
			return container, nil
		}
	}
	return Container{}, ErrNotFound
}

const dialogPageSize = 100

// inputPeer resolves a container id to an input peer, refreshing the dialog
// cache once when the id is unknown. Access hashes only come from the
// dialog list, so an id outside the recent dialogs cannot be addressed.
func (m *MTProto) inputPeer(ctx context.Context, containerID int64) (tg.InputPeerClass, error) {
	m.peersMu.Lock()
	peer, ok := m.peers[containerID]
	m.peersMu.Unlock()
	if ok {
		return peer, nil
	}
	if _, err := m.Containers(ctx, dialogPageSize); err != nil {
		return nil, err
	}
	m.peersMu.Lock()
	peer, ok = m.peers[containerID]
	m.peersMu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return peer, nil
}

// MediaMessages lists recent photo/video-bearing messages in a container.
func (m *MTProto) MediaMessages(ctx context.Context, containerID int64, limit int) ([]MediaMessage, error) {
	_, api, err := m.handles()
	if err != nil {
		return nil, err
	}

	var messages []tg.MessageClass
	if containerID == SavedMessages {
		result, err := api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:   &tg.InputPeerSelf{},
			Filter: &tg.InputMessagesFilterPhotoVideo{},
			Limit:  limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search saved messages: %w", err)
		}
		messages = modifiedMessages(result)
	} else {
		peer, err := m.inputPeer(ctx, containerID)
		if err != nil {
			return nil, err
		}
		result, err := api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:   peer,
			Filter: &tg.InputMessagesFilterPhotoVideo{},
			Limit:  limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search container %d: %w", containerID, err)
		}
		messages = modifiedMessages(result)
	}

	media := make([]MediaMessage, 0, len(messages))
	for _, class := range messages {
		if message, ok := mediaFromMessage(class); ok {
			media = append(media, message)
		}
	}
	return media, nil
}

// MediaMessage fetches a single message by id, via the personal store for
// SavedMessages and via a filtered container scan otherwise.
func (m *MTProto) MediaMessage(ctx context.Context, containerID int64, id int) (MediaMessage, error) {
	if containerID == SavedMessages {
		_, api, err := m.handles()
		if err != nil {
			return MediaMessage{}, err
		}
		result, err := api.MessagesGetMessages(ctx, []tg.InputMessageClass{&tg.InputMessageID{ID: id}})
		if err != nil {
			return MediaMessage{}, fmt.Errorf("get message %d: %w", id, err)
		}
		for _, class := range modifiedMessages(result) {
			if message, ok := mediaFromMessage(class); ok && message.ID == id {
				return message, nil
			}
		}
		return MediaMessage{}, ErrNotFound
	}

	messages, err := m.MediaMessages(ctx, containerID, dialogPageSize)
	if err != nil {
		return MediaMessage{}, err
	}
	for _, message := range messages {
		if message.ID == id {
			return message, nil
		}
	}
	return MediaMessage{}, ErrNotFound
}

func modifiedMessages(result tg.MessagesMessagesClass) []tg.MessageClass {
	modified, ok := result.AsModified()
	if !ok {
		return nil
	}
	return modified.GetMessages()
}

func mediaFromMessage(class tg.MessageClass) (MediaMessage, bool) {
	message, ok := class.(*tg.Message)
	if !ok {
		return MediaMessage{}, false
	}
	mediaDoc, ok := message.Media.(*tg.MessageMediaDocument)
	if !ok {
		return MediaMessage{}, false
	}
	document, ok := mediaDoc.Document.AsNotEmpty()
	if !ok {
		return MediaMessage{}, false
	}

	media := MediaMessage{
		ID:       message.ID,
		Date:     time.Unix(int64(message.Date), 0),
		Size:     document.Size,
		MimeType: document.MimeType,
		Locator: &tg.InputDocumentFileLocation{
			ID:            document.ID,
			AccessHash:    document.AccessHash,
			FileReference: document.FileReference,
		},
	}
	for _, attribute := range document.Attributes {
		switch attr := attribute.(type) {
		case *tg.DocumentAttributeFilename:
			media.Filename = attr.FileName
		case *tg.DocumentAttributeVideo:
			media.Duration = int(attr.Duration)
			media.Width = attr.W
			media.Height = attr.H
		}
	}
	return media, true
}

// FetchChunk retrieves one aligned window of file bytes. CDN-redirected
// files are not supported.
func (m *MTProto) FetchChunk(ctx context.Context, locator Locator, offset int64, limit int) ([]byte, error) {
	_, api, err := m.handles()
	if err != nil {
		return nil, err
	}
	location, ok := locator.(tg.InputFileLocationClass)
	if !ok {
		return nil, fmt.Errorf("unsupported locator %T", locator)
	}
	result, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: location,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch chunk at %d: %w", offset, err)
	}
	file, ok := result.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("fetch chunk at %d: unexpected reply %T", offset, result)
	}
	return file.Bytes, nil
}

var _ Client = (*MTProto)(nil)
