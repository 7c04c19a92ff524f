package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_CacheKey_IgnoresPosition(t *testing.T) {
	a := Unit{ID: "doc1:seg0", Kind: KindText, Payload: []byte("Hello"), SourceLang: "en", TargetLang: "ko"}
	b := Unit{ID: "doc7:seg42", Kind: KindText, Payload: []byte("Hello"), SourceLang: "en", TargetLang: "ko"}

	assert.Equal(t, a.CacheKey("google"), b.CacheKey("google"))
	assert.NotEqual(t, a.CacheKey("google"), a.CacheKey("deepl"))
}

func TestUnit_CacheKey_WhitespaceNormalized(t *testing.T) {
	a := Unit{Kind: KindText, Payload: []byte("Hello"), SourceLang: "en", TargetLang: "ko"}
	b := Unit{Kind: KindText, Payload: []byte("  Hello \n"), SourceLang: "en", TargetLang: "ko"}

	assert.Equal(t, a.PayloadHash(), b.PayloadHash())
}

func TestUnit_ImagePayloadNotNormalized(t *testing.T) {
	a := Unit{Kind: KindImage, Payload: []byte(" \x89PNG "), MediaType: "image/png"}
	b := Unit{Kind: KindImage, Payload: []byte("\x89PNG"), MediaType: "image/png"}

	assert.NotEqual(t, a.PayloadHash(), b.PayloadHash())
}

func TestUnit_ImageCacheKey_ThresholdChangesKey(t *testing.T) {
	img := Unit{
		ID:         "img:cover.png",
		Kind:       KindImage,
		Payload:    []byte{0x89, 0x50, 0x4e, 0x47},
		SourceLang: "ja",
		TargetLang: "en",
		MediaType:  "image/png",
	}

	low := img.ImageCacheKey("google", 0.3)
	high := img.ImageCacheKey("google", 0.7)
	require.NotEqual(t, low.String(), high.String())
	assert.Contains(t, low.String(), "image/png")
}
