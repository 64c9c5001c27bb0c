package indexing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adfharrison1/go-odm/pkg/keys"
	"github.com/adfharrison1/go-odm/pkg/metrics"
	"github.com/adfharrison1/go-odm/pkg/refdoc"
	"github.com/adfharrison1/go-odm/pkg/registry"
)

// Lookup answers exact-match queries from reference documents. It only
// returns owner keys; loading the documents is the caller's business.
type Lookup struct {
	refs *refdoc.Store
	keys *keys.Builder
	reg  *registry.Registry
	settings
}

func NewLookup(refs *refdoc.Store, kb *keys.Builder, reg *registry.Registry, opts ...Option) *Lookup {
	return &Lookup{refs: refs, keys: kb, reg: reg, settings: newSettings(opts)}
}

// FindBy returns the sorted keys of the documents of model whose index
// holds value. No match is an empty slice and a nil error.
func (l *Lookup) FindBy(ctx context.Context, model, index string, value interface{}) ([]string, error) {
	ctx, span := l.tracer.Start(ctx, "indexing.FindBy", trace.WithAttributes(
		attribute.String("odm.model", model),
		attribute.String("odm.index", index),
	))
	defer span.End()

	owners, err := l.findBy(ctx, model, index, value)
	result := "hit"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(owners) == 0:
		result = "miss"
	}
	metrics.Lookups.WithLabelValues(model, index, result).Inc()
	span.SetAttributes(attribute.Int("odm.owners", len(owners)))
	return owners, err
}

func (l *Lookup) findBy(ctx context.Context, model, index string, value interface{}) ([]string, error) {
	spec, err := l.reg.Spec(model, index)
	if err != nil {
		return nil, err
	}
	v, ok, err := NormalizeValue(spec, value, l.reg.KeyField)
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", model, index, err)
	}
	if !ok {
		return []string{}, nil
	}

	owners, err := l.refs.Owners(ctx, l.keys.RefKey(model, index, v))
	if err != nil {
		return nil, err
	}
	if owners == nil {
		owners = []string{}
	}
	l.log.Debug("lookup", "model", model, "index", index, "value", v, "owners", len(owners))
	return owners, nil
}

// FindOneBy returns the first owner key in sort order; ok is false when
// nothing holds the value.
func (l *Lookup) FindOneBy(ctx context.Context, model, index string, value interface{}) (string, bool, error) {
	owners, err := l.FindBy(ctx, model, index, value)
	if err != nil || len(owners) == 0 {
		return "", false, err
	}
	return owners[0], true, nil
}
