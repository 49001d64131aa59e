// Package migrate recognizes which schema version a root.json document
// satisfies and drives it through the upgrade chain to the current schema.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/starford/tapestry/internal/schema"
)

// ErrUnrecognized is returned when no version of the chain accepts a document.
var ErrUnrecognized = errors.New("migrate: unrecognized format")

// UnrecognizedError lists why each version rejected the document.
type UnrecognizedError struct {
	// Declared is the raw "version" value of the document, if any.
	Declared string
	Attempts map[int]error
}

func (e *UnrecognizedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrUnrecognized.Error() + ": not a JSON object"
	}
	versions := make([]int, 0, len(e.Attempts))
	for v := range e.Attempts {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	var b strings.Builder
	b.WriteString(ErrUnrecognized.Error())
	if e.Declared != "" {
		fmt.Fprintf(&b, " (declared version %s)", e.Declared)
	}
	for _, v := range versions {
		fmt.Fprintf(&b, "; v%d: %v", v, e.Attempts[v])
	}
	return b.String()
}

// Is reports whether target is ErrUnrecognized.
func (e *UnrecognizedError) Is(target error) bool {
	return target == ErrUnrecognized
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock pins the clock used by upgrades that stamp timestamps, which
// makes migration of pre-V1 documents reproducible.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.env.Now = now
	}
}

// WithChain replaces the version chain.
func WithChain(chain []schema.Version) Option {
	return func(e *Engine) {
		e.chain = chain
	}
}

// Engine runs documents through a version chain.
type Engine struct {
	chain []schema.Version
	env   schema.Env
}

// New creates an engine over the built-in chain.
func New(opts ...Option) *Engine {
	e := &Engine{chain: schema.Versions()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upgrade classifies raw against the chain oldest first and applies every
// remaining upgrade. It returns the upgraded document and the version the
// input was recognized as.
//
// Oldest first matters: a newer validator may structurally accept a document
// written for an older version, and newest-first matching would then skip
// upgrades the document needs.
func (e *Engine) Upgrade(raw []byte) (any, int, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, 0, &UnrecognizedError{}
	}

	attempts := make(map[int]error, len(e.chain))
	for i, v := range e.chain {
		doc, err := v.Decode(raw)
		if err != nil {
			attempts[v.Number] = err
			continue
		}
		for _, next := range e.chain[i:] {
			if next.Upgrade == nil {
				break
			}
			doc = next.Upgrade(doc, e.env)
		}
		return doc, v.Number, nil
	}
	return nil, 0, &UnrecognizedError{
		Declared: gjson.GetBytes(raw, "version").Raw,
		Attempts: attempts,
	}
}

// Result is a migrated manifest.
type Result struct {
	Manifest schema.Manifest
	// From is the version the input was recognized as.
	From int
	// Upgrades is the number of upgrade steps that ran.
	Upgrades int
}

// ParseRoot migrates a root.json document to the current schema.
func (e *Engine) ParseRoot(raw []byte) (*Result, error) {
	doc, from, err := e.Upgrade(raw)
	if err != nil {
		return nil, err
	}
	m, ok := doc.(schema.Manifest)
	if !ok {
		return nil, fmt.Errorf("migrate: chain ended in %T, not a manifest", doc)
	}
	return &Result{Manifest: m, From: from, Upgrades: schema.Current - from}, nil
}

// ParseRoot migrates a root.json document to the current schema with the
// built-in chain.
func ParseRoot(raw []byte, opts ...Option) (*Result, error) {
	return New(opts...).ParseRoot(raw)
}

// Migrate migrates raw and re-encodes the result as JSON.
func Migrate(raw []byte, opts ...Option) ([]byte, error) {
	res, err := ParseRoot(raw, opts...)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res.Manifest)
	if err != nil {
		return nil, fmt.Errorf("migrate: encode: %w", err)
	}
	return out, nil
}
