package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Env carries the inputs an upgrade may read besides the document itself.
type Env struct {
	// Now stamps createdAt/updatedAt in the steps that introduce them.
	// Nil means the wall clock.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

// Version is one entry of the version chain: a structural decoder for
// documents of that version and the upgrade to the next version. The newest
// version has a nil Upgrade.
type Version struct {
	Number int
	// Decode unmarshals and validates raw JSON as a document of this version.
	Decode func(raw []byte) (any, error)
	// Upgrade converts a value returned by Decode (or by the previous
	// version's Upgrade) into the next version. It never fails.
	Upgrade func(doc any, env Env) any
}

type validatable interface {
	Validate() error
}

func decodeAs[T validatable](raw []byte) (any, error) {
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func step[From, To any](fn func(From, Env) To) func(any, Env) any {
	return func(doc any, env Env) any {
		from, ok := doc.(From)
		if !ok {
			panic(fmt.Sprintf("schema: upgrade expects %T, got %T", from, doc))
		}
		return fn(from, env)
	}
}

var chain = []Version{
	{Number: 0, Decode: decodeAs[DocumentV0], Upgrade: step(upgradeV0)},
	{Number: 1, Decode: decodeAs[DocumentV1], Upgrade: step(upgradeV1)},
	{Number: 2, Decode: decodeAs[DocumentV2], Upgrade: step(upgradeV2)},
	{Number: 3, Decode: decodeAs[DocumentV3], Upgrade: step(upgradeV3)},
	{Number: 4, Decode: decodeAs[DocumentV4], Upgrade: step(upgradeV4)},
	{Number: 5, Decode: decodeAs[DocumentV5], Upgrade: step(upgradeV5)},
	{Number: Current, Decode: decodeAs[Manifest]},
}

// Versions returns the version chain ordered oldest first.
func Versions() []Version {
	return append([]Version(nil), chain...)
}

// DecodeManifest decodes and validates raw JSON as a current-schema manifest.
func DecodeManifest(raw []byte) (Manifest, error) {
	doc, err := decodeAs[Manifest](raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("schema: decode manifest: %w", err)
	}
	return doc.(Manifest), nil
}
