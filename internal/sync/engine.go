// Package sync provides the reconciliation engine between the local
// activity store and the remote activity service.
package sync

import (
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/spectile/fieldsync/internal/api"
	"github.com/spectile/fieldsync/internal/logger"
	"github.com/spectile/fieldsync/internal/store"
)

// Store is the slice of the local record store the engine drives.
type Store interface {
	Pending() ([]store.Activity, error)
	MarkSynced(clientID string, serverID int64) error
	List() ([]store.Activity, error)
	ReplaceAll(acts []store.Activity) error
	PendingDeletes() ([]store.PendingDelete, error)
	RemovePendingDelete(id int64) error
}

// errPersist marks a durable-storage write failure during a pass. It is
// systemic: the caller gets it back instead of a per-record count.
var errPersist = errors.New("local store write failed")

// Engine reconciles local records against the remote service. At most
// one reconciliation pass runs at a time; a pass requested while one is
// in flight is dropped as redundant.
type Engine struct {
	store        Store
	client       *api.Client
	pageSize     int
	debounceMs   int
	conflictsDir string // empty disables conflict backups

	mu      gosync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
}

// Result aggregates per-record push outcomes of one reconciliation pass.
type Result struct {
	Synced int
	Failed int
}

// NewEngine creates a sync engine.
// pageSize is the pull horizon; debounceMs delays triggered background syncs.
func NewEngine(db Store, client *api.Client, pageSize, debounceMs int, conflictsDir string) *Engine {
	return &Engine{
		store:        db,
		client:       client,
		pageSize:     pageSize,
		debounceMs:   debounceMs,
		conflictsDir: conflictsDir,
		stopCh:       make(chan struct{}),
	}
}

// begin claims the single reconciliation slot. It returns false when a
// pass is already in flight.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Reconcile runs one full pass: push pending records, flush queued
// remote deletes, then pull and merge the authoritative recent set.
// If a pass is already running this request is absorbed and the zero
// Result is returned. The returned error is systemic (total
// unavailability or a persistence failure); individual record failures
// only increment Result.Failed.
func (e *Engine) Reconcile() (Result, error) {
	if !e.begin() {
		logger.Debug("sync: reconciliation already in progress, dropping request")
		return Result{}, nil
	}
	defer e.finish()

	res, err := e.push()
	if err != nil {
		return res, err
	}

	e.flushDeletes()

	if err := e.pull(); err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}
	return res, nil
}

// Push pushes all pending local records. Exposed for the opportunistic
// push after a local write; subject to the same single-flight guard.
func (e *Engine) Push() (Result, error) {
	if !e.begin() {
		logger.Debug("sync: reconciliation already in progress, dropping push request")
		return Result{}, nil
	}
	defer e.finish()
	return e.push()
}

// Pull runs the pull-and-merge procedure alone, under the guard.
func (e *Engine) Pull() error {
	if !e.begin() {
		logger.Debug("sync: reconciliation already in progress, dropping pull request")
		return nil
	}
	defer e.finish()
	return e.pull()
}

// Trigger schedules a debounced background reconciliation. Triggers
// arriving within the debounce window coalesce into one pass.
func (e *Engine) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(time.Duration(e.debounceMs)*time.Millisecond, func() {
		select {
		case <-e.stopCh:
			// Stop raced the timer firing; the engine is shutting down.
			return
		default:
		}
		res, err := e.Reconcile()
		if err != nil {
			logger.Error("sync: background reconciliation failed: %v", err)
			return
		}
		if res.Synced > 0 || res.Failed > 0 {
			logger.Info("sync: background pass complete: %d synced, %d failed", res.Synced, res.Failed)
		}
	})
	logger.Debug("sync: debounce timer started/reset (%dms)", e.debounceMs)
}

// Stop cancels any pending debounce timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	logger.Debug("sync: engine stopped")
}

// push sends every pending record to the service. Each record's outcome
// is independent: a failure is counted and the batch continues. Only
// total unavailability of the service aborts the pass, and by then no
// remaining record has been touched.
func (e *Engine) push() (Result, error) {
	var res Result

	pending, err := e.store.Pending()
	if err != nil {
		return res, fmt.Errorf("failed to load pending activities: %w", err)
	}
	if len(pending) == 0 {
		logger.Debug("sync: no pending activities to push")
		return res, nil
	}

	logger.Debug("sync: pushing %d pending activities", len(pending))

	for _, act := range pending {
		err := e.pushOne(act)
		if err == nil {
			res.Synced++
			continue
		}
		if api.Unavailable(err) {
			return res, fmt.Errorf("remote service unavailable: %w", err)
		}
		if errors.Is(err, api.ErrUnauthorized) {
			// The credential is gone; every remaining record would fail
			// the same way. Abort so the caller can re-authenticate.
			return res, fmt.Errorf("authentication required: %w", err)
		}
		if errors.Is(err, errPersist) {
			return res, err
		}
		logger.Warn("sync: failed to push activity %s: %v", act.ClientID, err)
		res.Failed++
	}

	logger.Debug("sync: push complete: %d synced, %d failed", res.Synced, res.Failed)
	return res, nil
}

// pushOne syncs a single pending record. Records the server has already
// accepted (they carry a server id) are pushed as updates; everything
// else goes through the lookup-then-create idempotency path.
func (e *Engine) pushOne(act store.Activity) error {
	if act.ServerID != nil {
		updated, err := e.client.Update(*act.ServerID, dtoFromActivity(act))
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		serverID := *act.ServerID
		if updated != nil && updated.ID != nil {
			serverID = *updated.ID
		}
		return e.markSynced(act.ClientID, serverID)
	}

	// Idempotency guard: a prior pass may have created the record
	// remotely and failed before recording the outcome locally.
	remote, err := e.client.GetByClientID(act.ClientID)
	if err == nil {
		if remote.ID == nil {
			return fmt.Errorf("remote copy of %s carries no server id", act.ClientID)
		}
		logger.Debug("sync: activity %s already on server, adopting server id %d", act.ClientID, *remote.ID)
		return e.markSynced(act.ClientID, *remote.ID)
	}
	if !errors.Is(err, api.ErrNotFound) {
		return fmt.Errorf("lookup: %w", err)
	}

	created, err := e.client.Create(dtoFromActivity(act))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if created.ID == nil {
		return fmt.Errorf("create response for %s carries no server id", act.ClientID)
	}
	return e.markSynced(act.ClientID, *created.ID)
}

// markSynced records a server acceptance locally. Its failure is a
// persistence failure, not a record outcome.
func (e *Engine) markSynced(clientID string, serverID int64) error {
	if err := e.store.MarkSynced(clientID, serverID); err != nil {
		return fmt.Errorf("%w: %v", errPersist, err)
	}
	return nil
}

// pull fetches the authoritative recent set and replaces the local
// collection with the merge: every remote record, marked synced, plus
// every local record the fetch did not cover. Running it twice with no
// intervening local writes yields the same collection.
func (e *Engine) pull() error {
	page, err := e.client.ListRecent(0, e.pageSize)
	if err != nil {
		return fmt.Errorf("failed to list recent activities: %w", err)
	}

	// Records deleted locally but whose remote delete has not landed yet
	// must not be merged back in from the fetch.
	dels, err := e.store.PendingDeletes()
	if err != nil {
		return fmt.Errorf("failed to load pending deletes: %w", err)
	}
	deleting := make(map[string]bool, len(dels))
	for _, d := range dels {
		deleting[d.ClientID] = true
	}

	merged := make([]store.Activity, 0, len(page.Content))
	seen := make(map[string]bool, len(page.Content))
	for _, dto := range page.Content {
		if deleting[dto.ClientID] {
			logger.Debug("sync: not merging %s, its remote delete is still queued", dto.ClientID)
			continue
		}
		act, err := activityFromDTO(dto)
		if err != nil {
			logger.Warn("sync: skipping malformed remote activity %s: %v", dto.ClientID, err)
			continue
		}
		seen[act.ClientID] = true
		merged = append(merged, act)
	}

	locals, err := e.store.List()
	if err != nil {
		return fmt.Errorf("failed to load local activities: %w", err)
	}
	for _, local := range locals {
		if !seen[local.ClientID] {
			// Not covered by the fetch: very recent local creations or
			// records the server paginated past. Kept with their state.
			merged = append(merged, local)
			continue
		}
		if local.SyncState == store.StatePending {
			// Remote wins once observed; preserve the superseded local
			// copy so the edit is never silently lost.
			if err := e.backupConflict(local); err != nil {
				logger.Warn("sync: failed to back up local copy of %s: %v", local.ClientID, err)
			}
		}
	}

	if err := e.store.ReplaceAll(merged); err != nil {
		return fmt.Errorf("failed to commit merged activities: %w", err)
	}

	logger.Debug("sync: merged %d remote and %d local activities", len(page.Content), len(merged)-len(seen))
	return nil
}

// flushDeletes attempts the queued remote deletes. Best effort: a
// failed delete stays queued for the next pass.
func (e *Engine) flushDeletes() {
	dels, err := e.store.PendingDeletes()
	if err != nil {
		logger.Warn("sync: failed to load pending deletes: %v", err)
		return
	}
	if len(dels) == 0 {
		return
	}

	logger.Debug("sync: flushing %d pending deletes", len(dels))
	for _, d := range dels {
		err := e.client.Delete(d.ServerID)
		if errors.Is(err, api.ErrUnauthorized) {
			logger.Warn("sync: authentication required, deferring queued deletes")
			return
		}
		if err != nil && !errors.Is(err, api.ErrNotFound) {
			logger.Warn("sync: failed to delete activity %d remotely: %v", d.ServerID, err)
			continue
		}
		if err := e.store.RemovePendingDelete(d.ID); err != nil {
			logger.Warn("sync: failed to clear pending delete %d: %v", d.ID, err)
		}
	}
}

// dtoFromActivity converts a local record to its wire form. The sync
// state never crosses the wire.
func dtoFromActivity(act store.Activity) api.ActivityDTO {
	dto := api.ActivityDTO{
		ClientID:    act.ClientID,
		Kind:        act.Kind,
		SubjectName: act.SubjectName,
		ContactName: act.ContactName,
		Email:       act.Email,
		Phone:       act.Phone,
		Notes:       act.Notes,
		OccurredAt:  act.OccurredAt.UTC().Format(time.RFC3339),
	}
	if act.Location != nil {
		loc := api.LocationDTO{
			Latitude:  act.Location.Latitude,
			Longitude: act.Location.Longitude,
			Accuracy:  act.Location.Accuracy,
		}
		if !act.Location.CapturedAt.IsZero() {
			loc.Timestamp = act.Location.CapturedAt.UTC().Format(time.RFC3339)
		}
		dto.Location = &loc
	}
	return dto
}

// activityFromDTO converts a remote record to its local form, marked
// synced and carrying the server id.
func activityFromDTO(dto api.ActivityDTO) (store.Activity, error) {
	if dto.ClientID == "" {
		return store.Activity{}, fmt.Errorf("remote activity carries no client id")
	}
	if dto.ID == nil {
		return store.Activity{}, fmt.Errorf("remote activity %s carries no server id", dto.ClientID)
	}
	occurredAt, err := time.Parse(time.RFC3339, dto.OccurredAt)
	if err != nil {
		return store.Activity{}, fmt.Errorf("bad timestamp %q: %w", dto.OccurredAt, err)
	}

	serverID := *dto.ID
	act := store.Activity{
		ClientID:    dto.ClientID,
		ServerID:    &serverID,
		Kind:        dto.Kind,
		SubjectName: dto.SubjectName,
		ContactName: dto.ContactName,
		Email:       dto.Email,
		Phone:       dto.Phone,
		Notes:       dto.Notes,
		OccurredAt:  occurredAt,
		SyncState:   store.StateSynced,
	}
	if dto.Location != nil {
		loc := store.Location{
			Latitude:  dto.Location.Latitude,
			Longitude: dto.Location.Longitude,
			Accuracy:  dto.Location.Accuracy,
		}
		if dto.Location.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339, dto.Location.Timestamp); err == nil {
				loc.CapturedAt = t
			}
		}
		act.Location = &loc
	}
	return act, nil
}
