package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind classifies a translatable unit.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Unit is one independently translatable piece of work: a chapter text
// chunk or an embedded image. Units are value types and never mutated
// after construction.
type Unit struct {
	// ID is a stable position reference into the source document,
	// e.g. "doc3:seg12" or "img:images/cover.png".
	ID         string
	Kind       Kind
	Payload    []byte
	SourceLang string
	TargetLang string
	// MediaType is set for image units (e.g. "image/png").
	MediaType string
}

func (u Unit) Text() string {
	return string(u.Payload)
}

// PayloadHash returns the SHA-256 content hash of the unit payload.
// Text payloads are trimmed of surrounding whitespace before hashing so
// extraction passes that differ only in whitespace still hit the cache.
func (u Unit) PayloadHash() string {
	data := u.Payload
	if u.Kind == KindText {
		data = []byte(strings.TrimSpace(string(u.Payload)))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CacheKey identifies a cached result independently of the unit's
// position in the document. Two units with identical payload and
// parameters map to the same key.
type CacheKey struct {
	PayloadHash         string
	SourceLang          string
	TargetLang          string
	Service             string
	MediaType           string
	ConfidenceThreshold float64
}

func (u Unit) CacheKey(service string) CacheKey {
	return CacheKey{
		PayloadHash: u.PayloadHash(),
		SourceLang:  u.SourceLang,
		TargetLang:  u.TargetLang,
		Service:     service,
		MediaType:   u.MediaType,
	}
}

// ImageCacheKey includes the OCR confidence threshold, which changes
// the prescan verdict and therefore the key.
func (u Unit) ImageCacheKey(service string, confidenceThreshold float64) CacheKey {
	key := u.CacheKey(service)
	key.ConfidenceThreshold = confidenceThreshold
	return key
}

func (k CacheKey) String() string {
	if k.MediaType != "" {
		return fmt.Sprintf("%s|%s|%s|%s|%s|%.2f",
			k.PayloadHash, k.SourceLang, k.TargetLang, k.Service, k.MediaType, k.ConfidenceThreshold)
	}
	return fmt.Sprintf("%s|%s|%s|%s", k.PayloadHash, k.SourceLang, k.TargetLang, k.Service)
}

// Result is the outcome of processing one unit.
type Result struct {
	UnitID         string
	Value          string
	FromCache      bool
	FromCheckpoint bool
	Err            error
}

func (r Result) Failed() bool {
	return r.Err != nil
}
