// Package directory lists remote media objects and resolves object ids to
// opaque locators for the streaming engine.
package directory

import (
	"context"
	"errors"
	"fmt"

	"telestream/internal/telegram"
)

// DefaultPageSize bounds how many recent messages a listing fetches,
// matching the provider page size.
const DefaultPageSize = 100

// RemoteObject describes one media file derived from a container's message
// list. It is recomputed on every listing call and never persisted.
type RemoteObject struct {
	ID       int
	Name     string
	Size     int64
	MimeType string
	Duration int
	Width    int
	Height   int
	Locator  telegram.Locator
}

// Directory is a thin read-only view over the backend client.
type Directory struct {
	client   telegram.Client
	pageSize int
}

// New constructs a Directory with the default page size.
func New(client telegram.Client) *Directory {
	return &Directory{client: client, pageSize: DefaultPageSize}
}

// Containers lists recent group and channel dialogs.
func (d *Directory) Containers(ctx context.Context) ([]telegram.Container, error) {
	return d.client.Containers(ctx, d.pageSize)
}

// Container fetches a single dialog by id.
func (d *Directory) Container(ctx context.Context, id int64) (telegram.Container, error) {
	return d.client.Container(ctx, id)
}

// List returns the media objects of a container in the backend's native
// order. An empty container yields an empty slice, not an error.
func (d *Directory) List(ctx context.Context, containerID int64) ([]RemoteObject, error) {
	messages, err := d.client.MediaMessages(ctx, containerID, d.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list container %d: %w", containerID, err)
	}
	objects := make([]RemoteObject, 0, len(messages))
	for _, message := range messages {
		objects = append(objects, objectFromMessage(message))
	}
	return objects, nil
}

// Resolve looks up a single object by id, preferring the hinted container
// and falling back to the personal store. It returns telegram.ErrNotFound
// when no matching media exists.
func (d *Directory) Resolve(ctx context.Context, objectID int, containerIDHint int64) (RemoteObject, error) {
	if containerIDHint != telegram.SavedMessages {
		message, err := d.client.MediaMessage(ctx, containerIDHint, objectID)
		if err == nil {
			return objectFromMessage(message), nil
		}
		if !errors.Is(err, telegram.ErrNotFound) {
			return RemoteObject{}, fmt.Errorf("resolve object %d in container %d: %w", objectID, containerIDHint, err)
		}
	}
	message, err := d.client.MediaMessage(ctx, telegram.SavedMessages, objectID)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			return RemoteObject{}, telegram.ErrNotFound
		}
		return RemoteObject{}, fmt.Errorf("resolve object %d: %w", objectID, err)
	}
	return objectFromMessage(message), nil
}

func objectFromMessage(message telegram.MediaMessage) RemoteObject {
	name := message.Filename
	if name == "" {
		name = fmt.Sprintf("File_%d", message.ID)
	}
	return RemoteObject{
		ID:       message.ID,
		Name:     name,
		Size:     message.Size,
		MimeType: message.MimeType,
		Duration: message.Duration,
		Width:    message.Width,
		Height:   message.Height,
		Locator:  message.Locator,
	}
}
