package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"diet-plan-delivery/internal/nutrition"
)

// ContentTypePDF is the MIME type of rendered documents.
const ContentTypePDF = "application/pdf"

// Handle addresses a rendered, persisted document.
type Handle struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsZero reports whether the handle points at nothing.
func (h Handle) IsZero() bool {
	return h.Key == "" && h.Location == ""
}

// Render operations reported in RenderError.
const (
	OpLayout   = "layout"
	OpWrite    = "write"
	OpStore    = "store"
	OpManifest = "manifest"
	OpFetch    = "fetch"
)

// RenderError is returned when a document cannot be produced or persisted.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("document %s failed: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer renders plans to PDF and persists them in a Store.
type Renderer struct {
	store Store
	now   func() time.Time
}

// NewRenderer creates a Renderer writing to store.
func NewRenderer(store Store) *Renderer {
	return &Renderer{store: store, now: time.Now}
}

// Render lays out the plan, writes the PDF under dest and stores a manifest
// next to it. Each call produces a new, uniquely named document.
func (r *Renderer) Render(ctx context.Context, plan *nutrition.Plan, attrs nutrition.UserAttributes, dest string) (Handle, error) {
	if plan == nil {
		return Handle{}, &RenderError{Op: OpLayout, Err: fmt.Errorf("plan is nil")}
	}

	now := r.now()
	layout := BuildLayout(plan, attrs, now)

	data, sections, pages, err := writePDF(layout)
	if err != nil {
		return Handle{}, &RenderError{Op: OpWrite, Err: err}
	}

	name := NewDocumentName(attrs.UserID, now)
	key := name
	if dest = strings.Trim(path.Clean("/"+dest), "/"); dest != "" {
		key = path.Join(dest, name)
	}

	location, err := r.store.Put(ctx, key, data, ContentTypePDF)
	if err != nil {
		return Handle{}, &RenderError{Op: OpStore, Err: err}
	}

	handle := Handle{
		Name:        name,
		Key:         key,
		Location:    location,
		ContentType: ContentTypePDF,
		Size:        int64(len(data)),
		CreatedAt:   now,
	}

	manifest := newManifest(handle, layout, sections, pages)
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Handle{}, &RenderError{Op: OpManifest, Err: err}
	}
	if _, err := r.store.Put(ctx, manifestKey(key), raw, "application/json"); err != nil {
		// Nothing refers to the document without its manifest.
		if dErr := r.store.Delete(context.WithoutCancel(ctx), key); dErr != nil {
			log.Printf("Warning: failed to remove orphaned document %s: %v", key, dErr)
		}
		return Handle{}, &RenderError{Op: OpManifest, Err: err}
	}

	return handle, nil
}

// Fetch returns the bytes of a rendered document.
func (r *Renderer) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	data, err := r.store.Get(ctx, h.Key)
	if err != nil {
		return nil, &RenderError{Op: OpFetch, Err: err}
	}
	return data, nil
}

// Inspect reads the manifest of a rendered document.
func (r *Renderer) Inspect(ctx context.Context, h Handle) (*Manifest, error) {
	return Inspect(ctx, r.store, h)
}
