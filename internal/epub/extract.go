package epub

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/epubtrans/epubtrans/internal/unit"
)

// Elements whose text content is never translated.
var skipElements = map[string]bool{
	"script": true,
	"style":  true,
	"code":   true,
	"pre":    true,
}

// ExtractUnits walks every spine document in order and returns one
// text unit per non-empty text node, plus one image unit per manifest
// image. Unit IDs encode the document index and a running segment
// counter inside it, so the same book always yields the same IDs.
func ExtractUnits(book *Book, sourceLang, targetLang string) []unit.Unit {
	var units []unit.Unit
	for docIdx, doc := range book.Documents {
		seg := 0
		walkText(doc.Data, func(text string) string {
			units = append(units, unit.Unit{
				ID:         segmentID(docIdx, seg),
				Kind:       unit.KindText,
				Payload:    []byte(text),
				SourceLang: sourceLang,
				TargetLang: targetLang,
			})
			seg++
			return ""
		})
	}
	for _, img := range book.Images {
		units = append(units, unit.Unit{
			ID:         imageID(img.Path),
			Kind:       unit.KindImage,
			Payload:    img.Data,
			SourceLang: sourceLang,
			TargetLang: targetLang,
			MediaType:  img.MediaType,
		})
	}
	return units
}

// Lookup resolves a unit ID to its translated value. A false return
// or an empty value keeps the original content in place.
type Lookup func(unitID string) (string, bool)

// ApplyResults substitutes translated values back into the book. The
// walk mirrors ExtractUnits exactly so segment counters line up. With
// bilingual set the translation is appended after the original text.
func ApplyResults(book *Book, lookup Lookup, bilingual bool) error {
	for docIdx, doc := range book.Documents {
		seg := 0
		out := walkText(doc.Data, func(text string) string {
			value, ok := lookup(segmentID(docIdx, seg))
			seg++
			if !ok || value == "" || value == text {
				return ""
			}
			if bilingual {
				return text + " / " + value
			}
			return value
		})
		book.SetDocument(doc.Path, out)
	}
	for _, img := range book.Images {
		value, ok := lookup(imageID(img.Path))
		if ok && value != "" {
			book.SetImage(img.Path, []byte(value))
		}
	}
	return nil
}

func segmentID(docIdx, seg int) string { return fmt.Sprintf("doc%d:seg%d", docIdx, seg) }

func imageID(entryPath string) string { return "img:" + entryPath }

// walkText tokenizes an XHTML document and calls visit for every
// translatable text node, preserving surrounding whitespace. visit
// returns the replacement for the trimmed core, or "" to keep it.
// walkText returns the re-serialized document.
func walkText(data []byte, visit func(text string) string) []byte {
	var out bytes.Buffer
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := tokenizer.Raw()

		switch tt {
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipElements[string(name)] {
				skipDepth++
			}
			out.Write(raw)
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipDepth > 0 && skipElements[string(name)] {
				skipDepth--
			}
			out.Write(raw)
		case html.TextToken:
			if skipDepth > 0 {
				out.Write(raw)
				continue
			}
			text := string(tokenizer.Text())
			core := strings.TrimSpace(text)
			if core == "" {
				out.Write(raw)
				continue
			}
			replacement := visit(core)
			if replacement == "" {
				out.Write(raw)
				continue
			}
			start := strings.Index(text, core)
			out.WriteString(text[:start])
			out.WriteString(html.EscapeString(replacement))
			out.WriteString(text[start+len(core):])
		default:
			out.Write(raw)
		}
	}
	return out.Bytes()
}
