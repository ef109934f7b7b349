// Package remotesync keeps a local record and its resource in the billing
// provider in lockstep.
//
// An entity type is registered once with the column holding the remote id
// and the functions that create and delete its remote resource. The engine
// then guarantees at most one remote resource per record: CreateRemote
// creates it once and stores the id in the same transaction as the caller's
// write, DeleteRemote removes it when the type's policy allows. The engine
// is the only writer of the remote id column.
package remotesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/domain/shared"
	"github.com/billsync/backend/internal/domain/shared/hook"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/telemetry"
)

// RemoteBacked is a local record mirrored to a remote resource.
type RemoteBacked interface {
	GetID() uuid.UUID
	RemoteID() string
	SetRemoteID(id string)
}

// ErrNotRemoteBacked is returned for records whose type was never
// registered.
var ErrNotRemoteBacked = &shared.ConfigurationError{
	Component: "remotesync",
	Reason:    "entity type is not remote-backed",
}

// abortedError rolls back the engine's transaction after a hook abort.
// Callers never see it; they get (false, nil).
type abortedError struct {
	reason string
}

func (e *abortedError) Error() string {
	return "remotesync: aborted: " + e.reason
}

// Options are the immutable per-type settings given at registration.
type Options struct {
	// DeleteOnDestroy allows DeleteRemote to remove the remote resource.
	DeleteOnDestroy bool
}

// Definition describes how records of type T map to remote resources.
type Definition[T RemoteBacked] struct {
	// KeyColumn is the column storing the remote id, e.g. stripe_customer_id
	KeyColumn string
	// Name derives the remote name. Defaults to DefaultName.
	Name func(table string, rec T) string
	// Attrs derives extra remote attributes. Defaults to none.
	Attrs func(rec T) map[string]string
	// Create creates the remote resource and returns its id.
	Create func(ctx context.Context, rec T, name string, attrs map[string]string) (string, error)
	// Delete removes the remote resource of rec.
	Delete func(ctx context.Context, rec T) error
	Options Options
	// DeletePolicy decides per record whether DeleteRemote proceeds.
	// Defaults to Options.DeleteOnDestroy.
	DeletePolicy func(rec T) bool
}

// DefaultName names a remote resource after the table and the record id,
// e.g. "customers_6ba7b810-...".
func DefaultName(table string, rec RemoteBacked) string {
	return table + "_" + rec.GetID().String()
}

type registration struct {
	table     string
	keyColumn string
	options   Options
	hooks     *hook.Registry[RemoteBacked]
	name      func(RemoteBacked) string
	attrs     func(RemoteBacked) map[string]string
	create    func(context.Context, RemoteBacked, string, map[string]string) (string, error)
	delete    func(context.Context, RemoteBacked) error
	policy    func(RemoteBacked) bool
}

// Engine is the synchronization engine.
type Engine struct {
	db      *persistence.Database
	logger  *zap.Logger
	metrics *telemetry.EngineMetrics

	mu    sync.RWMutex
	types map[string]*registration
}

// NewEngine creates a synchronization engine writing through db
func NewEngine(db *persistence.Database, logger *zap.Logger, metrics *telemetry.EngineMetrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		logger:  logger.Named("remotesync"),
		metrics: metrics,
		types:   make(map[string]*registration),
	}
}

// Register marks the type of model as remote-backed. It fails with a
// *billing.MissingRemoteKeyError when the schema has no def.KeyColumn.
// Registering a type again is a no-op and keeps the first definition.
func Register[T RemoteBacked](e *Engine, model T, def Definition[T]) error {
	table, err := persistence.TableName(e.db.DB, model)
	if err != nil {
		return fmt.Errorf("remotesync: register: %w", err)
	}
	if def.Create == nil {
		return &shared.ConfigurationError{Component: table, Reason: "remote create function is required"}
	}
	ok, err := persistence.HasColumn(e.db.DB, model, def.KeyColumn)
	if err != nil {
		return fmt.Errorf("remotesync: register: %w", err)
	}
	if def.KeyColumn == "" || !ok {
		return &billing.MissingRemoteKeyError{Entity: table, Column: def.KeyColumn}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.types[table]; exists {
		return nil
	}

	reg := &registration{
		table:     table,
		keyColumn: def.KeyColumn,
		options:   def.Options,
		hooks:     hook.NewRegistry[RemoteBacked](hook.RemoteCreation, hook.RemoteDeletion),
		name: func(rec RemoteBacked) string {
			if def.Name == nil {
				return DefaultName(table, rec)
			}
			return def.Name(table, rec.(T))
		},
		attrs: func(rec RemoteBacked) map[string]string {
			if def.Attrs == nil {
				return nil
			}
			return def.Attrs(rec.(T))
		},
		create: func(ctx context.Context, rec RemoteBacked, name string, attrs map[string]string) (string, error) {
			return def.Create(ctx, rec.(T), name, attrs)
		},
		policy: func(rec RemoteBacked) bool {
			if def.DeletePolicy == nil {
				return def.Options.DeleteOnDestroy
			}
			return def.DeletePolicy(rec.(T))
		},
	}
	if def.Delete != nil {
		reg.delete = func(ctx context.Context, rec RemoteBacked) error {
			return def.Delete(ctx, rec.(T))
		}
	}
	e.types[table] = reg

	e.logger.Debug("Registered remote-backed type",
		zap.String("table", table),
		zap.String("key_column", def.KeyColumn),
		zap.Bool("delete_on_destroy", def.Options.DeleteOnDestroy))
	return nil
}

// IsRemoteBacked reports whether table was registered
func (e *Engine) IsRemoteBacked(table string) bool {
	_, ok := e.lookupTable(table)
	return ok
}

// Options returns the options table was registered with
func (e *Engine) Options(table string) (Options, bool) {
	reg, ok := e.lookupTable(table)
	if !ok {
		return Options{}, false
	}
	return reg.options, true
}

// Hooks returns the remote-creation and remote-deletion hook registry of the
// type of model.
func (e *Engine) Hooks(model RemoteBacked) (*hook.Registry[RemoteBacked], error) {
	reg, err := e.lookup(model)
	if err != nil {
		return nil, err
	}
	return reg.hooks, nil
}

func (e *Engine) lookupTable(table string) (*registration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.types[table]
	return reg, ok
}

func (e *Engine) lookup(rec RemoteBacked) (*registration, error) {
	table, err := persistence.TableName(e.db.DB, rec)
	if err != nil {
		return nil, err
	}
	reg, ok := e.lookupTable(table)
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrNotRemoteBacked)
	}
	return reg, nil
}

// CreateRemote creates the remote resource of rec and stores its id. A
// record that already has a remote id is returned unchanged without calling
// the provider.
//
// The work runs in a transaction nested in the one carried by ctx, if any,
// so a failure also undoes the caller's write once the caller returns the
// error. A hook abort yields (false, nil). When the provider call succeeded
// but a later step failed, the new remote resource is deleted again on a
// best-effort basis.
func (e *Engine) CreateRemote(ctx context.Context, rec RemoteBacked) (bool, error) {
	reg, err := e.lookup(rec)
	if err != nil {
		return false, err
	}
	log := e.logger.With(zap.String("table", reg.table), zap.String("id", rec.GetID().String()))

	if rec.RemoteID() != "" {
		log.Debug("Record already linked, skipping remote create", zap.String("remote_id", rec.RemoteID()))
		e.metrics.RemoteOperation(ctx, reg.table, "create", telemetry.OutcomeNoop)
		return true, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "remotesync.create", telemetry.EntityAttrs(reg.table, rec.GetID().String())...)
	defer span.End()
	log.Debug("Creating remote resource")

	var created string
	err = e.db.Transaction(ctx, func(ctx context.Context) error {
		res, err := reg.hooks.Run(ctx, hook.RemoteCreation, rec, func(ctx context.Context) error {
			id, err := reg.create(ctx, rec, reg.name(rec), reg.attrs(rec))
			if err != nil {
				return err
			}
			created = id
			if err := e.writeKey(ctx, reg, rec, id); err != nil {
				return err
			}
			rec.SetRemoteID(id)
			return nil
		})
		if err != nil {
			return err
		}
		if res.Aborted {
			return &abortedError{reason: res.Reason}
		}
		return nil
	})

	if err != nil {
		rec.SetRemoteID("")
		if created != "" {
			e.compensate(ctx, reg, rec, created, log)
		}
		var aborted *abortedError
		if errors.As(err, &aborted) {
			log.Warn("Remote create aborted by hook", zap.String("reason", aborted.reason))
			e.metrics.RemoteOperation(ctx, reg.table, "create", telemetry.OutcomeAborted)
			telemetry.RecordError(span, nil)
			return false, nil
		}
		log.Error("Failed to create remote resource", zap.Error(err))
		e.metrics.RemoteOperation(ctx, reg.table, "create", telemetry.OutcomeError)
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("remotesync: failed to create remote %s: %w", reg.table, err)
	}

	log.Info("Remote resource created", zap.String("remote_id", created))
	e.metrics.RemoteOperation(ctx, reg.table, "create", telemetry.OutcomeSuccess)
	telemetry.RecordError(span, nil)
	return true, nil
}

// compensate deletes a remote resource whose local link was rolled back
func (e *Engine) compensate(ctx context.Context, reg *registration, rec RemoteBacked, remoteID string, log *zap.Logger) {
	if reg.delete == nil {
		log.Warn("Remote resource left without local link", zap.String("remote_id", remoteID))
		return
	}
	rec.SetRemoteID(remoteID)
	defer rec.SetRemoteID("")
	if err := reg.delete(ctx, rec); err != nil {
		log.Error("Failed to delete unlinked remote resource",
			zap.String("remote_id", remoteID),
			zap.Error(err))
		return
	}
	log.Info("Deleted unlinked remote resource", zap.String("remote_id", remoteID))
}

// DeleteRemote deletes the remote resource of rec and clears its remote id.
// It returns false without calling the provider when rec is not linked or
// the type's delete policy is off, and false with a nil error when a hook
// aborted. Provider errors are returned as is.
func (e *Engine) DeleteRemote(ctx context.Context, rec RemoteBacked) (bool, error) {
	reg, err := e.lookup(rec)
	if err != nil {
		return false, err
	}
	log := e.logger.With(zap.String("table", reg.table), zap.String("id", rec.GetID().String()))

	if rec.RemoteID() == "" || !reg.policy(rec) || reg.delete == nil {
		log.Debug("Skipping remote delete",
			zap.Bool("linked", rec.RemoteID() != ""),
			zap.Bool("policy", reg.policy(rec)))
		e.metrics.RemoteOperation(ctx, reg.table, "delete", telemetry.OutcomeNoop)
		return false, nil
	}

	remoteID := rec.RemoteID()
	ctx, span := telemetry.StartSpan(ctx, "remotesync.delete", telemetry.EntityAttrs(reg.table, rec.GetID().String())...)
	defer span.End()
	log.Debug("Deleting remote resource", zap.String("remote_id", remoteID))

	var res hook.Result
	err = e.db.Transaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = reg.hooks.Run(ctx, hook.RemoteDeletion, rec, func(ctx context.Context) error {
			if err := reg.delete(ctx, rec); err != nil {
				return err
			}
			return e.writeKey(ctx, reg, rec, "")
		})
		if err != nil {
			return err
		}
		if res.Aborted {
			return &abortedError{reason: res.Reason}
		}
		return nil
	})

	var aborted *abortedError
	switch {
	case errors.As(err, &aborted):
		log.Warn("Remote delete aborted by hook", zap.String("reason", aborted.reason))
		e.metrics.RemoteOperation(ctx, reg.table, "delete", telemetry.OutcomeAborted)
		telemetry.RecordError(span, nil)
		return false, nil
	case err != nil:
		log.Error("Failed to delete remote resource", zap.String("remote_id", remoteID), zap.Error(err))
		e.metrics.RemoteOperation(ctx, reg.table, "delete", telemetry.OutcomeError)
		telemetry.RecordError(span, err)
		return false, err
	}

	rec.SetRemoteID("")
	log.Info("Remote resource deleted", zap.String("remote_id", remoteID))
	e.metrics.RemoteOperation(ctx, reg.table, "delete", telemetry.OutcomeSuccess)
	telemetry.RecordError(span, nil)
	return true, nil
}

// UpdateRemote calls fn when newValue differs from oldValue and rec is
// linked. It reports whether fn was called. There is no transaction: no
// local state depends on the outcome, and errors from fn are returned as is.
func UpdateRemote[V comparable](ctx context.Context, e *Engine, rec RemoteBacked, oldValue, newValue V, fn func(ctx context.Context) error) (bool, error) {
	reg, err := e.lookup(rec)
	if err != nil {
		return false, err
	}
	if oldValue == newValue || rec.RemoteID() == "" {
		e.metrics.RemoteOperation(ctx, reg.table, "update", telemetry.OutcomeNoop)
		return false, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "remotesync.update", telemetry.EntityAttrs(reg.table, rec.GetID().String())...)
	defer span.End()

	if err := fn(ctx); err != nil {
		e.logger.Error("Failed to update remote resource",
			zap.String("table", reg.table),
			zap.String("remote_id", rec.RemoteID()),
			zap.Error(err))
		e.metrics.RemoteOperation(ctx, reg.table, "update", telemetry.OutcomeError)
		telemetry.RecordError(span, err)
		return true, err
	}
	e.metrics.RemoteOperation(ctx, reg.table, "update", telemetry.OutcomeSuccess)
	telemetry.RecordError(span, nil)
	return true, nil
}

// writeKey stores id in the key column, skipping model hooks. An empty id
// writes NULL.
func (e *Engine) writeKey(ctx context.Context, reg *registration, rec RemoteBacked, id string) error {
	var value any
	if id != "" {
		value = id
	}
	err := persistence.Conn(ctx, e.db.DB).
		Unscoped().
		Model(rec).
		Omit(clause.Associations).
		UpdateColumn(reg.keyColumn, value).Error
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", reg.keyColumn, err)
	}
	return nil
}
