// Package indexing keeps reference documents in step with primary
// documents and answers exact-match lookups from them.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keys"
	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/metrics"
	"github.com/adfharrison1/go-odm/pkg/refdoc"
)

const tracerName = "go-odm/indexing"

// Option configures a Maintainer or a Lookup
type Option func(*settings)

type settings struct {
	log    *slog.Logger
	tracer trace.Tracer
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// WithTracer replaces the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		log:    logger.Discard(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Maintainer applies the difference between two index value snapshots
// of one owner to the reference documents.
type Maintainer struct {
	refs *refdoc.Store
	keys *keys.Builder
	settings
}

func NewMaintainer(refs *refdoc.Store, kb *keys.Builder, opts ...Option) *Maintainer {
	return &Maintainer{refs: refs, keys: kb, settings: newSettings(opts)}
}

// Synchronize makes the reference documents of ownerKey reflect current
// instead of previous. For each spec, values only in previous lose the
// owner and values only in current gain it; removals run first. Every
// value is attempted even after a failure, and any failure is reported
// as a *domain.PartialSyncFailure next to the full result. Running it
// twice with the same input changes nothing the second time.
func (m *Maintainer) Synchronize(ctx context.Context, model, ownerKey string, previous, current domain.IndexValues, specs []domain.IndexSpec) (domain.SyncResult, error) {
	ctx, span := m.tracer.Start(ctx, "indexing.Synchronize", trace.WithAttributes(
		attribute.String("odm.model", model),
		attribute.String("odm.owner", ownerKey),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}()

	var result domain.SyncResult
	for _, spec := range specs {
		prev := previous[spec.FieldPath]
		cur := current[spec.FieldPath]
		failed := len(result.Failed)

		for _, v := range diff(prev, cur) {
			key := m.keys.RefKey(model, spec.IndexName, v)
			changed, err := m.refs.RemoveOwner(ctx, key, ownerKey)
			if err != nil {
				result.Failed = append(result.Failed, m.failure(model, ownerKey, spec, v, domain.SyncOpRemove, err))
				continue
			}
			if changed {
				result.Removed++
			}
		}

		for _, v := range diff(cur, prev) {
			key := m.keys.RefKey(model, spec.IndexName, v)
			changed, err := m.refs.AddOwner(ctx, key, ownerKey, uniqueCheck(spec, v))
			if err != nil {
				result.Failed = append(result.Failed, m.failure(model, ownerKey, spec, v, domain.SyncOpAdd, err))
				continue
			}
			if changed {
				result.Added++
			}
		}

		if len(result.Failed) == failed {
			result.Succeeded = append(result.Succeeded, spec)
		}
	}

	return m.finish(span, model, ownerKey, result)
}

// Apply performs single owner changes, such as the failed mutations of
// an earlier Synchronize. Every mutation is attempted and failures are
// reported the way Synchronize reports them.
func (m *Maintainer) Apply(ctx context.Context, model, ownerKey string, mutations []domain.SyncMutation) (domain.SyncResult, error) {
	ctx, span := m.tracer.Start(ctx, "indexing.Apply", trace.WithAttributes(
		attribute.String("odm.model", model),
		attribute.String("odm.owner", ownerKey),
		attribute.Int("odm.mutations", len(mutations)),
	))
	defer span.End()

	var (
		result domain.SyncResult
		specs  []domain.IndexSpec
		failed = make(map[string]bool)
	)
	for _, mu := range mutations {
		if !containsSpec(specs, mu.Spec) {
			specs = append(specs, mu.Spec)
		}
		key := m.keys.RefKey(model, mu.Spec.IndexName, mu.Value)

		var (
			changed bool
			err     error
		)
		switch mu.Op {
		case domain.SyncOpRemove:
			changed, err = m.refs.RemoveOwner(ctx, key, ownerKey)
		case domain.SyncOpAdd:
			changed, err = m.refs.AddOwner(ctx, key, ownerKey, uniqueCheck(mu.Spec, mu.Value))
		default:
			err = fmt.Errorf("unknown sync op %q", mu.Op)
		}
		if err != nil {
			failed[mu.Spec.FieldPath] = true
			result.Failed = append(result.Failed, m.failure(model, ownerKey, mu.Spec, mu.Value, mu.Op, err))
			continue
		}
		if changed && mu.Op == domain.SyncOpAdd {
			result.Added++
		} else if changed {
			result.Removed++
		}
	}
	for _, spec := range specs {
		if !failed[spec.FieldPath] {
			result.Succeeded = append(result.Succeeded, spec)
		}
	}
	return m.finish(span, model, ownerKey, result)
}

func (m *Maintainer) finish(span trace.Span, model, ownerKey string, result domain.SyncResult) (domain.SyncResult, error) {
	span.SetAttributes(
		attribute.Int("odm.sync.added", result.Added),
		attribute.Int("odm.sync.removed", result.Removed),
	)
	if result.OK() {
		return result, nil
	}

	err := &domain.PartialSyncFailure{
		Model:     model,
		OwnerKey:  ownerKey,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "partial sync failure")
	return result, err
}

func containsSpec(specs []domain.IndexSpec, spec domain.IndexSpec) bool {
	for _, s := range specs {
		if s.FieldPath == spec.FieldPath {
			return true
		}
	}
	return false
}

func (m *Maintainer) failure(model, ownerKey string, spec domain.IndexSpec, value string, op domain.SyncOp, err error) domain.SyncFailure {
	metrics.SyncFailures.WithLabelValues(model, spec.IndexName).Inc()
	m.log.Error("reference document sync failed",
		"model", model,
		"owner", ownerKey,
		"index", spec.IndexName,
		"value", value,
		"op", string(op),
		"error", err)
	return domain.SyncFailure{Spec: spec, Value: value, Op: op, Err: err}
}

// uniqueCheck refuses a second owner on unique indexes
func uniqueCheck(spec domain.IndexSpec, value string) refdoc.CheckFunc {
	if !spec.Unique {
		return nil
	}
	return func(owners []string) error {
		if len(owners) > 0 {
			return fmt.Errorf("%w: %s=%q is held by %s", domain.ErrUniqueViolation, spec.IndexName, value, owners[0])
		}
		return nil
	}
}
