package telemetry

import (
	"fmt"
	"maps"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	input      optional[string]   // sancov.input
	inputKind  optional[string]   // sancov.input.kind
	session    optional[string]   // sancov.session
	controls   optional[[]string] // sancov.controls
	sliceLines optional[int]      // sancov.slice.lines
	diceLines  optional[int]      // sancov.dice.lines
	shrink     optional[float64]  // sancov.shrink_percent

	extraAttributes map[string]any
}

func NewSpanAttributes() *SpanAttributes {
	return &SpanAttributes{extraAttributes: make(map[string]any)}
}

// Merge copies values that are set in other and unset in o.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	mergeOptional(&o.input, &other.input)
	mergeOptional(&o.inputKind, &other.inputKind)
	mergeOptional(&o.session, &other.session)
	mergeOptional(&o.controls, &other.controls)
	mergeOptional(&o.sliceLines, &other.sliceLines)
	mergeOptional(&o.diceLines, &other.diceLines)
	mergeOptional(&o.shrink, &other.shrink)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithInput(path, kind, session string) *SpanAttributes {
	o.input.Set(path)
	o.inputKind.Set(kind)
	o.session.Set(session)
	return o
}

func (o *SpanAttributes) WithControls(paths []string) *SpanAttributes {
	o.controls.Set(paths)
	return o
}

func (o *SpanAttributes) WithDice(sliceLines, diceLines int, shrink float64) *SpanAttributes {
	o.sliceLines.Set(sliceLines)
	o.diceLines.Set(diceLines)
	o.shrink.Set(shrink)
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.input.set {
		attrs = append(attrs, attribute.String("sancov.input", o.input.val))
	}
	if o.inputKind.set {
		attrs = append(attrs, attribute.String("sancov.input.kind", o.inputKind.val))
	}
	if o.session.set && o.session.val != "" {
		attrs = append(attrs, attribute.String("sancov.session", o.session.val))
	}
	if o.controls.set {
		attrs = append(attrs, attribute.StringSlice("sancov.controls", o.controls.val))
	}
	if o.sliceLines.set {
		attrs = append(attrs, attribute.Int("sancov.slice.lines", o.sliceLines.val))
	}
	if o.diceLines.set {
		attrs = append(attrs, attribute.Int("sancov.dice.lines", o.diceLines.val))
	}
	if o.shrink.set {
		attrs = append(attrs, attribute.Float64("sancov.shrink_percent", o.shrink.val))
	}

	keys := make([]string, 0, len(o.extraAttributes))
	for k := range o.extraAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := o.extraAttributes[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
