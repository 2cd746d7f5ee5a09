// Package sync is the sync core (C4): validates payloads, enforces team
// membership, writes canonical state through the persistence adapter, and
// emits broadcast events. It is consumed by both the HTTP surface and the
// realtime gateway, so it depends on neither.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/errs"
	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/store"
)

// maxAnnotationDataBytes is the serialized-size cap on an annotation's
// opaque payload, per §4.4.
const maxAnnotationDataBytes = 50 * 1024

// Broadcaster delivers a sync-core event to every channel joined to a team
// room. The realtime gateway (C5) implements this; sync never imports it,
// to keep the dependency direction C5 → C4 → C3 the spec describes.
type Broadcaster interface {
	BroadcastToTeam(teamID uuid.UUID, event string, payload any)
}

// Store is the slice of the persistence adapter the sync core needs. A
// narrowed interface rather than *store.Store so tests can exercise
// validation and membership logic without a database.
type Store interface {
	IsMember(ctx context.Context, userID, teamID uuid.UUID) (bool, error)
	InsertLocation(ctx context.Context, p store.InsertLocationParams) (store.LocationRow, error)
	UpsertAnnotation(ctx context.Context, p store.UpsertAnnotationParams) (store.AnnotationRow, error)
	InsertMessage(ctx context.Context, p store.InsertMessageParams) (store.MessageRow, error)
}

// Core implements the sync core's public operations.
type Core struct {
	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

// New creates a Core backed by st and broadcaster. broadcaster may be nil at
// construction time and supplied later via SetBroadcaster — the realtime
// gateway (C5) takes a *Core at construction, so wiring them together is
// necessarily a two-step process at the call site.
func New(st Store, broadcaster Broadcaster, logger *slog.Logger) *Core {
	return &Core{store: st, broadcaster: broadcaster, logger: logger}
}

// SetBroadcaster assigns the broadcaster after construction, for the
// realtime gateway → sync core → realtime gateway wiring cycle in
// internal/app.
func (c *Core) SetBroadcaster(broadcaster Broadcaster) {
	c.broadcaster = broadcaster
}

// AssertMembership is the explicit predicate every write operation calls
// before touching the store, per §4.4.
func (c *Core) AssertMembership(ctx context.Context, userID, teamID uuid.UUID) error {
	ok, err := c.store.IsMember(ctx, userID, teamID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !ok {
		return errs.New(errs.Forbidden, "not a member of this team")
	}
	return nil
}

// validateStruct runs struct-tag validation and folds field errors into a
// single errs.Validation, reusing the HTTP layer's validator instance so
// the two surfaces agree on what "valid" means.
func validateStruct(v any) error {
	fieldErrs := httpserver.Validate(v)
	if len(fieldErrs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return errs.New(errs.Validation, strings.Join(msgs, "; "))
}

// LocationPayload is the payload for SubmitLocation.
type LocationPayload struct {
	TeamID    uuid.UUID `json:"teamId" validate:"required"`
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude  *float64  `json:"altitude,omitempty" validate:"omitempty,gte=-500,lte=15000"`
	Accuracy  *float64  `json:"accuracy,omitempty" validate:"omitempty,gte=0,lte=10000"`
	// TimestampMS is the client-reported sample time, in epoch milliseconds.
	TimestampMS int64 `json:"timestamp" validate:"required"`
}

// LocationUpdate is the broadcast payload for location:update.
type LocationUpdate struct {
	UserID    uuid.UUID `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// SubmitLocation validates and persists a location sample, then broadcasts
// location:update to the team room. Per §4.4, the broadcast only happens
// after the write has committed.
func (c *Core) SubmitLocation(ctx context.Context, userID uuid.UUID, p LocationPayload) (store.LocationRow, error) {
	if err := validateStruct(p); err != nil {
		return store.LocationRow{}, err
	}
	if err := validateTimestamp(p.TimestampMS); err != nil {
		return store.LocationRow{}, err
	}
	if err := c.AssertMembership(ctx, userID, p.TeamID); err != nil {
		return store.LocationRow{}, err
	}

	row, err := c.store.InsertLocation(ctx, store.InsertLocationParams{
		UserID:          userID,
		TeamID:          p.TeamID,
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
		Altitude:        p.Altitude,
		Accuracy:        p.Accuracy,
		ClientTimestamp: time.UnixMilli(p.TimestampMS).UTC(),
	})
	if err != nil {
		return store.LocationRow{}, fmt.Errorf("submitting location: %w", err)
	}

	c.broadcaster.BroadcastToTeam(p.TeamID, "location:update", LocationUpdate{
		UserID:    userID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		Altitude:  row.Altitude,
		Accuracy:  row.Accuracy,
		Timestamp: p.TimestampMS,
	})

	return row, nil
}

// validateTimestamp enforces the [now-7d, now+5min] window from §4.4. This
// can't be expressed as a static validator struct tag since it's relative
// to the current time, so it's checked by hand after struct validation.
func validateTimestamp(ms int64) error {
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Before(now.Add(-7*24*time.Hour)) || t.After(now.Add(5*time.Minute)) {
		return errs.New(errs.Validation, "timestamp is outside the allowed [-7d, +5min] window")
	}
	return nil
}

// AnnotationPayload is the payload for SubmitAnnotation.
type AnnotationPayload struct {
	TeamID       uuid.UUID       `json:"teamId" validate:"required"`
	AnnotationID *uuid.UUID      `json:"annotationId,omitempty"`
	Type         string          `json:"type" validate:"required,max=64"`
	Data         json.RawMessage `json:"data" validate:"required"`
}

// SubmitAnnotation upserts an annotation by identifier (generating one if
// the caller didn't supply one) and broadcasts annotation:update.
func (c *Core) SubmitAnnotation(ctx context.Context, userID uuid.UUID, p AnnotationPayload) (store.AnnotationRow, error) {
	if err := validateStruct(p); err != nil {
		return store.AnnotationRow{}, err
	}
	if len(p.Data) > maxAnnotationDataBytes {
		return store.AnnotationRow{}, errs.New(errs.Validation, "data exceeds 50 KB serialized")
	}
	if err := c.AssertMembership(ctx, userID, p.TeamID); err != nil {
		return store.AnnotationRow{}, err
	}

	id := uuid.New()
	if p.AnnotationID != nil {
		id = *p.AnnotationID
	}

	row, err := c.store.UpsertAnnotation(ctx, store.UpsertAnnotationParams{
		ID:       id,
		UserID:   userID,
		TeamID:   p.TeamID,
		Category: p.Type,
		Data:     p.Data,
	})
	if err != nil {
		return store.AnnotationRow{}, fmt.Errorf("submitting annotation: %w", err)
	}

	c.broadcaster.BroadcastToTeam(p.TeamID, "annotation:update", row)

	return row, nil
}

// MessagePayload is the payload for SubmitMessage.
type MessagePayload struct {
	TeamID      uuid.UUID `json:"teamId" validate:"required"`
	MessageType string    `json:"messageType" validate:"required,eq=text"`
	Content     string    `json:"content" validate:"required,min=1,max=2000"`
}

// SubmitMessage inserts a message and broadcasts message:received.
func (c *Core) SubmitMessage(ctx context.Context, userID uuid.UUID, p MessagePayload) (store.MessageRow, error) {
	if err := validateStruct(p); err != nil {
		return store.MessageRow{}, err
	}
	if err := c.AssertMembership(ctx, userID, p.TeamID); err != nil {
		return store.MessageRow{}, err
	}

	row, err := c.store.InsertMessage(ctx, store.InsertMessageParams{
		UserID:   userID,
		TeamID:   p.TeamID,
		Category: p.MessageType,
		Content:  p.Content,
	})
	if err != nil {
		return store.MessageRow{}, fmt.Errorf("submitting message: %w", err)
	}

	c.broadcaster.BroadcastToTeam(p.TeamID, "message:received", row)

	return row, nil
}
