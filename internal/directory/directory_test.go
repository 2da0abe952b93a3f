package directory

import (
	"context"
	"errors"
	"testing"

	"telestream/internal/telegram"
	"telestream/internal/testsupport"
)

func TestListMapsMessagesToObjects(t *testing.T) {
	backend := &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			99: {
				{ID: 3, Filename: "movie.mp4", Size: 1024, MimeType: "video/mp4", Duration: 90, Width: 1920, Height: 1080, Locator: "loc-3"},
				{ID: 5, Size: 200, MimeType: "image/jpeg", Locator: "loc-5"},
			},
		},
	}
	dir := New(backend)

	objects, err := dir.List(context.Background(), 99)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objects))
	}
	if objects[0].Name != "movie.mp4" || objects[0].Duration != 90 {
		t.Fatalf("unexpected first object: %+v", objects[0])
	}
	if objects[1].Name != "File_5" {
		t.Fatalf("expected placeholder name File_5, got %q", objects[1].Name)
	}
	if objects[1].Duration != 0 || objects[1].Width != 0 || objects[1].Height != 0 {
		t.Fatalf("expected zero video attributes, got %+v", objects[1])
	}
	// native return order, no re-sort
	if objects[0].ID != 3 || objects[1].ID != 5 {
		t.Fatalf("expected backend order preserved, got %+v", objects)
	}
}

func TestListEmptyContainer(t *testing.T) {
	dir := New(&testsupport.FakeBackend{})

	objects, err := dir.List(context.Background(), 12)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if objects == nil || len(objects) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", objects)
	}
}

func TestResolvePrefersHintedContainer(t *testing.T) {
	backend := &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			99:                     {{ID: 3, Filename: "hinted.bin", Locator: "loc-hint"}},
			telegram.SavedMessages: {{ID: 3, Filename: "saved.bin", Locator: "loc-saved"}},
		},
	}
	dir := New(backend)

	object, err := dir.Resolve(context.Background(), 3, 99)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if object.Name != "hinted.bin" {
		t.Fatalf("expected hinted container match, got %q", object.Name)
	}
}

func TestResolveFallsBackToSavedMessages(t *testing.T) {
	backend := &testsupport.FakeBackend{
		Media: map[int64][]telegram.MediaMessage{
			telegram.SavedMessages: {{ID: 8, Filename: "saved.bin", Locator: "loc-saved"}},
		},
	}
	dir := New(backend)

	object, err := dir.Resolve(context.Background(), 8, 99)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if object.Name != "saved.bin" {
		t.Fatalf("expected saved messages fallback, got %q", object.Name)
	}
}

func TestResolveNotFound(t *testing.T) {
	dir := New(&testsupport.FakeBackend{})

	_, err := dir.Resolve(context.Background(), 404, 0)
	if !errors.Is(err, telegram.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
