// Package epub reads and writes EPUB containers: enough of the format
// to pull translatable content out of a book and write a translated
// copy back, nothing more.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/epubtrans/epubtrans/pkg/log"
)

const (
	containerPath = "META-INF/container.xml"
	mimetypePath  = "mimetype"
	epubMimetype  = "application/epub+zip"
)

// Document is one spine content document, in reading order.
type Document struct {
	Path string
	Data []byte
}

// Image is a manifest image resource.
type Image struct {
	Path      string
	Data      []byte
	MediaType string
}

// Book is an opened EPUB. Entry bytes are held in memory and written
// back in their original order on Save, so untouched resources pass
// through byte for byte.
type Book struct {
	SourcePath string
	Package    Package
	OPFPath    string
	Documents  []Document
	Images     []Image

	files map[string][]byte
	order []string
}

// Open reads an EPUB from disk.
func Open(filePath string) (*Book, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open epub %s: %w", filePath, err)
	}
	defer reader.Close()

	book := &Book{
		SourcePath: filePath,
		files:      make(map[string][]byte, len(reader.File)),
	}
	for _, f := range reader.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		book.files[f.Name] = data
		book.order = append(book.order, f.Name)
	}

	if err := book.parse(); err != nil {
		return nil, err
	}
	return book, nil
}

func (b *Book) parse() error {
	containerData, ok := b.files[containerPath]
	if !ok {
		return errors.New("not an epub: META-INF/container.xml missing")
	}
	var container Container
	if err := xml.Unmarshal(containerData, &container); err != nil {
		return fmt.Errorf("parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return errors.New("container.xml lists no rootfile")
	}
	b.OPFPath = container.Rootfiles[0].FullPath

	opfData, ok := b.files[b.OPFPath]
	if !ok {
		return fmt.Errorf("rootfile %s missing from archive", b.OPFPath)
	}
	if err := xml.Unmarshal(opfData, &b.Package); err != nil {
		return fmt.Errorf("parse %s: %w", b.OPFPath, err)
	}

	opfDir := path.Dir(b.OPFPath)
	manifest := make(map[string]Item, len(b.Package.Manifest.Items))
	for _, item := range b.Package.Manifest.Items {
		manifest[item.ID] = item
	}

	for _, ref := range b.Package.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			log.Warn("spine itemref %q not in manifest, skipping", ref.IDRef)
			continue
		}
		if item.MediaType != "application/xhtml+xml" && item.MediaType != "text/html" {
			continue
		}
		entry := resolveHref(opfDir, item.Href)
		data, ok := b.files[entry]
		if !ok {
			log.Warn("spine document %s missing from archive, skipping", entry)
			continue
		}
		b.Documents = append(b.Documents, Document{Path: entry, Data: data})
	}
	if len(b.Documents) == 0 {
		return errors.New("epub has no readable content documents")
	}

	for _, item := range b.Package.Manifest.Items {
		if !strings.HasPrefix(item.MediaType, "image/") {
			continue
		}
		entry := resolveHref(opfDir, item.Href)
		data, ok := b.files[entry]
		if !ok {
			continue
		}
		b.Images = append(b.Images, Image{Path: entry, Data: data, MediaType: item.MediaType})
	}
	return nil
}

func resolveHref(opfDir, href string) string {
	if opfDir == "." || opfDir == "" {
		return href
	}
	return path.Join(opfDir, href)
}

// Title returns the Dublin Core title.
func (b *Book) Title() string { return strings.TrimSpace(b.Package.Metadata.Title) }

// Language returns the declared dc:language, lowercased.
func (b *Book) Language() string {
	return strings.ToLower(strings.TrimSpace(b.Package.Metadata.Language))
}

// SetDocument replaces a content document's bytes.
func (b *Book) SetDocument(entryPath string, data []byte) {
	b.files[entryPath] = data
	for i := range b.Documents {
		if b.Documents[i].Path == entryPath {
			b.Documents[i].Data = data
			return
		}
	}
}

// SetImage replaces an image resource's bytes.
func (b *Book) SetImage(entryPath string, data []byte) {
	b.files[entryPath] = data
	for i := range b.Images {
		if b.Images[i].Path == entryPath {
			b.Images[i].Data = data
			return
		}
	}
}

var (
	languageTagRe = regexp.MustCompile(`(<dc:language[^>]*>)[^<]*(</dc:language>)`)
	titleTagRe    = regexp.MustCompile(`(<dc:title[^>]*>)[^<]*(</dc:title>)`)
)

// SetLanguage rewrites dc:language in the OPF. The rewrite is textual
// so the rest of the package document stays byte-identical.
func (b *Book) SetLanguage(lang string) {
	b.rewriteOPF(languageTagRe, lang)
	b.Package.Metadata.Language = lang
}

// SetTitle rewrites dc:title in the OPF.
func (b *Book) SetTitle(title string) {
	b.rewriteOPF(titleTagRe, title)
	b.Package.Metadata.Title = title
}

func (b *Book) rewriteOPF(re *regexp.Regexp, value string) {
	opf, ok := b.files[b.OPFPath]
	if !ok {
		return
	}
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(value))
	b.files[b.OPFPath] = re.ReplaceAll(opf, []byte("${1}"+escaped.String()+"${2}"))
}

// Save writes the book to outPath. The mimetype entry goes first and
// uncompressed, as the format requires; everything else keeps its
// original archive order.
func (b *Book) Save(outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	mimeHeader := &zip.FileHeader{Name: mimetypePath, Method: zip.Store}
	mw, err := w.CreateHeader(mimeHeader)
	if err != nil {
		return err
	}
	mimeData, ok := b.files[mimetypePath]
	if !ok {
		mimeData = []byte(epubMimetype)
	}
	if _, err := mw.Write(mimeData); err != nil {
		return err
	}

	for _, name := range b.order {
		if name == mimetypePath {
			continue
		}
		fw, err := w.Create(name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(b.files[name]); err != nil {
			return fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Close()
}
