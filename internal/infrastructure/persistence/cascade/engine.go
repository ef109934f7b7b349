// Package cascade implements recursive soft delete and soft restore over
// declared cascades-on-destroy relations.
//
// Every entity type taking part is registered once with its relations. A
// top-level SoftDestroy or SoftRestore runs the whole tree in one
// transaction: either every reachable record changes state or none does.
// The engine is the only writer of deleted_at.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/billsync/backend/internal/domain/shared"
	"github.com/billsync/backend/internal/domain/shared/hook"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/telemetry"
)

// Record is a soft-deletable row.
type Record interface {
	GetID() uuid.UUID
	IsDeleted() bool
	GetDeletedAt() *time.Time
	SetDeletedAt(t *time.Time)
}

// associationResetter is implemented by records that cache loaded
// associations.
type associationResetter interface {
	ResetAssociations()
}

// ErrNotRegistered is returned when the root record's type was never
// registered with the engine.
var ErrNotRegistered = &shared.ConfigurationError{
	Component: "cascade",
	Reason:    "entity type is not cascade-managed",
}

// errAborted rolls back the cascade transaction after a hook abort.
var errAborted = errors.New("cascade: aborted")

// Declaration lists the cascades-on-destroy relations of an entity type.
// The same list drives destroy and restore.
type Declaration struct {
	Relations []Relation
}

type entityType struct {
	table     string
	relations []Relation
	hooks     *hook.Registry[Record]
}

// Engine applies soft destroy and soft restore. It is safe for concurrent
// use once registration is done.
type Engine struct {
	db      *persistence.Database
	logger  *zap.Logger
	metrics *telemetry.EngineMetrics

	mu    sync.RWMutex
	types map[string]*entityType
}

// NewEngine creates a cascade engine writing through db
func NewEngine(db *persistence.Database, logger *zap.Logger, metrics *telemetry.EngineMetrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		logger:  logger.Named("cascade"),
		metrics: metrics,
		types:   make(map[string]*entityType),
	}
}

// Register marks the type of model as cascade-managed. Registering a type
// again is a no-op and keeps the first declaration.
func (e *Engine) Register(model Record, decl Declaration) error {
	table, err := persistence.TableName(e.db.DB, model)
	if err != nil {
		return fmt.Errorf("cascade: register: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.types[table]; ok {
		return nil
	}
	e.types[table] = &entityType{
		table:     table,
		relations: append([]Relation(nil), decl.Relations...),
		hooks:     hook.NewRegistry[Record](hook.SoftDestroy, hook.SoftRestore),
	}
	e.logger.Debug("Registered cascade-managed type",
		zap.String("table", table),
		zap.Int("relations", len(decl.Relations)))
	return nil
}

// IsCascadeManaged reports whether table was registered
func (e *Engine) IsCascadeManaged(table string) bool {
	_, ok := e.lookup(table)
	return ok
}

// Hooks returns the soft-destroy and soft-restore hook registry of the type
// of model.
func (e *Engine) Hooks(model Record) (*hook.Registry[Record], error) {
	table, err := persistence.TableName(e.db.DB, model)
	if err != nil {
		return nil, err
	}
	t, ok := e.lookup(table)
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrNotRegistered)
	}
	return t.hooks, nil
}

func (e *Engine) lookup(table string) (*entityType, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.types[table]
	return t, ok
}

// Option configures a single SoftDestroy or SoftRestore call
type Option func(*callOptions)

type callOptions struct {
	recursive bool
}

// NonRecursive limits the operation to the root record
func NonRecursive() Option {
	return func(o *callOptions) {
		o.recursive = false
	}
}

type operation struct {
	name  string
	phase hook.Phase
	// target is the deletion state records end up in
	target bool
}

var (
	destroyOp = operation{name: "soft_destroy", phase: hook.SoftDestroy, target: true}
	restoreOp = operation{name: "soft_restore", phase: hook.SoftRestore, target: false}
)

// SoftDestroy sets deleted_at on rec and, unless NonRecursive is given, on
// every active record reachable through its relations. It returns false
// with a nil error when a hook aborted; nothing is written in that case.
func (e *Engine) SoftDestroy(ctx context.Context, rec Record, opts ...Option) (bool, error) {
	return e.run(ctx, destroyOp, rec, opts)
}

// SoftRestore clears deleted_at on rec and, unless NonRecursive is given, on
// every deleted record reachable through its relations. It returns false
// with a nil error when a hook aborted; nothing is written in that case.
func (e *Engine) SoftRestore(ctx context.Context, rec Record, opts ...Option) (bool, error) {
	return e.run(ctx, restoreOp, rec, opts)
}

// traversal is the state of one top-level call
type traversal struct {
	op        operation
	recursive bool
	value     *time.Time
	visited   map[string]struct{}
	touched   int
}

func (e *Engine) run(ctx context.Context, op operation, rec Record, opts []Option) (bool, error) {
	o := callOptions{recursive: true}
	for _, opt := range opts {
		opt(&o)
	}

	table, err := persistence.TableName(e.db.DB, rec)
	if err != nil {
		return false, err
	}
	t, ok := e.lookup(table)
	if !ok {
		return false, fmt.Errorf("%s: %w", table, ErrNotRegistered)
	}

	ctx, span := telemetry.StartSpan(ctx, "cascade."+op.name,
		append(telemetry.EntityAttrs(table, rec.GetID().String()),
			attribute.Bool("cascade.recursive", o.recursive))...)
	defer span.End()

	log := e.logger.With(
		zap.String("operation", op.name),
		zap.String("table", table),
		zap.String("id", rec.GetID().String()),
	)
	log.Debug("Starting cascade", zap.Bool("recursive", o.recursive))

	tr := &traversal{
		op:        op,
		recursive: o.recursive,
		visited:   make(map[string]struct{}),
	}
	if op.target {
		now := time.Now().UTC()
		tr.value = &now
	}

	previous := rec.GetDeletedAt()
	err = e.db.Transaction(ctx, func(ctx context.Context) error {
		return e.apply(ctx, tr, table, t, rec)
	})

	switch {
	case errors.Is(err, errAborted):
		rec.SetDeletedAt(previous)
		span.SetAttributes(attribute.Bool("cascade.aborted", true))
		telemetry.RecordError(span, nil)
		log.Warn("Cascade aborted by hook")
		return false, nil
	case err != nil:
		rec.SetDeletedAt(previous)
		telemetry.RecordError(span, err)
		log.Error("Cascade failed", zap.Error(err))
		return false, fmt.Errorf("cascade: %s failed: %w", op.name, err)
	}

	if r, ok := rec.(associationResetter); ok {
		r.ResetAssociations()
	}
	e.metrics.CascadeRecords(ctx, op.name, tr.touched)
	span.SetAttributes(attribute.Int("cascade.records", tr.touched))
	telemetry.RecordError(span, nil)
	log.Info("Cascade completed", zap.Int("records", tr.touched))
	return true, nil
}

// apply runs the phase hooks of rec around its dependents and its own
// deleted_at write. t is nil for types that were never registered; those
// records are stamped as leaves.
func (e *Engine) apply(ctx context.Context, tr *traversal, table string, t *entityType, rec Record) error {
	key := table + ":" + rec.GetID().String()
	if _, seen := tr.visited[key]; seen {
		return nil
	}
	tr.visited[key] = struct{}{}

	op := func(ctx context.Context) error {
		if t != nil && tr.recursive {
			for _, rel := range t.relations {
				if err := e.applyRelation(ctx, tr, t, rel, rec); err != nil {
					return err
				}
			}
		}
		return e.stamp(ctx, tr, rec)
	}
	if t == nil {
		return op(ctx)
	}

	res, err := t.hooks.Run(ctx, tr.op.phase, rec, op)
	if err != nil {
		return err
	}
	if res.Aborted {
		e.logger.Debug("Hook aborted cascade",
			zap.String("table", table),
			zap.String("id", rec.GetID().String()),
			zap.String("reason", res.Reason))
		return errAborted
	}
	return nil
}

func (e *Engine) applyRelation(ctx context.Context, tr *traversal, owner *entityType, rel Relation, rec Record) error {
	dependents, err := rel.Load(ctx, Query{
		DB:         persistence.Conn(ctx, e.db.DB),
		Owner:      rec,
		OwnerTable: owner.table,
		Deleted:    !tr.op.target,
	})
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		// a dependent reached twice is already in the target state
		if dep.IsDeleted() == tr.op.target {
			continue
		}
		depTable, err := persistence.TableName(e.db.DB, dep)
		if err != nil {
			return err
		}
		t, _ := e.lookup(depTable)
		if err := e.apply(ctx, tr, depTable, t, dep); err != nil {
			return fmt.Errorf("%s: %w", rel.Name, err)
		}
	}
	return nil
}

// stamp writes deleted_at directly, skipping model hooks and updated_at
func (e *Engine) stamp(ctx context.Context, tr *traversal, rec Record) error {
	var value any
	if tr.value != nil {
		value = *tr.value
	}
	err := persistence.Conn(ctx, e.db.DB).
		Unscoped().
		Model(rec).
		Omit(clause.Associations).
		UpdateColumn("deleted_at", value).Error
	if err != nil {
		return fmt.Errorf("failed to write deleted_at: %w", err)
	}
	rec.SetDeletedAt(tr.value)
	tr.touched++
	return nil
}
