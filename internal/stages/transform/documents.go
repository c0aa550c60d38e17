package transform

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/crypto/blake2b"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// MaxTitleLength bounds titles taken from plain text
const MaxTitleLength = 200

// DocumentsConfig configures text extraction
type DocumentsConfig struct {
	// Selector is the CSS selector of the HTML text root. Defaults to body.
	Selector string
	// XPath selects the text root instead of Selector when set
	XPath string
	// MaxText truncates extracted text to this many bytes, 0 = unlimited
	MaxText int
}

// Documents extracts text documents from files
type Documents struct {
	cfg      DocumentsConfig
	stripper *bluemonday.Policy
}

// NewDocuments validates cfg and creates the transform
func NewDocuments(cfg DocumentsConfig) (*Documents, error) {
	if cfg.Selector == "" {
		cfg.Selector = "body"
	}
	if cfg.XPath != "" {
		empty := &nethtml.Node{Type: nethtml.DocumentNode}
		if _, err := htmlquery.QueryAll(empty, cfg.XPath); err != nil {
			return nil, fmt.Errorf("documents: invalid xpath %q: %w", cfg.XPath, err)
		}
	}

	stripper := bluemonday.StrictPolicy()
	stripper.AddSpaceWhenStrippingTag(true)

	return &Documents{cfg: cfg, stripper: stripper}, nil
}

// Extract builds the document of f
func (d *Documents) Extract(f stages.File) (stages.Document, error) {
	sum := blake2b.Sum256(f.Content)
	mtype := mimetype.Detect(f.Content)

	doc := stages.Document{
		Path:    f.Path,
		MIME:    mtype.String(),
		Size:    f.Size,
		Digest:  hex.EncodeToString(sum[:]),
		ModTime: f.ModTime,
	}
	if doc.Size == 0 {
		doc.Size = int64(len(f.Content))
	}

	var err error
	switch {
	case mtype.Is("text/html"):
		err = d.extractHTML(&doc, f.Content)
	case isText(mtype):
		d.extractText(&doc, f.Content)
	}
	if err != nil {
		return doc, fmt.Errorf("extract %s: %w", f.Path, err)
	}

	doc.Text = truncate(doc.Text, d.cfg.MaxText)
	doc.Words = len(strings.Fields(doc.Text))
	return doc, nil
}

func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (d *Documents) extractHTML(doc *stages.Document, content []byte) error {
	_, name, _ := charset.DetermineEncoding(content, "text/html")
	doc.Charset = name

	root, err := nethtml.Parse(decode(content, name))
	if err != nil {
		return err
	}

	page := goquery.NewDocumentFromNode(root)
	page.Find("script, style, noscript, template").Remove()
	doc.Title = collapse(page.Find("title").First().Text())

	var markup strings.Builder
	if d.cfg.XPath != "" {
		nodes, err := htmlquery.QueryAll(root, d.cfg.XPath)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			markup.WriteString(htmlquery.OutputHTML(n, true))
			markup.WriteByte(' ')
		}
	} else {
		page.Find(d.cfg.Selector).Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				markup.WriteString(h)
				markup.WriteByte(' ')
			}
		})
	}

	doc.Text = collapse(html.UnescapeString(d.stripper.Sanitize(markup.String())))
	return nil
}

func (d *Documents) extractText(doc *stages.Document, content []byte) {
	label := "utf-8"
	if !utf8.Valid(content) {
		if result, err := chardet.NewTextDetector().DetectBest(content); err == nil && result != nil {
			label = result.Charset
		}
	}
	doc.Charset = strings.ToLower(label)

	data, err := io.ReadAll(decode(content, label))
	if err != nil {
		data = content
	}
	text := string(data)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			doc.Title = truncate(line, MaxTitleLength)
			break
		}
	}
	doc.Text = collapse(text)
}

// decode returns a reader converting content from the named encoding to
// UTF-8, or content itself if the encoding is unknown.
func decode(content []byte, label string) io.Reader {
	r, err := charset.NewReaderLabel(label, bytes.NewReader(content))
	if err != nil {
		return bytes.NewReader(content)
	}
	return r
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Handle is the transform message hook. Structured payloads are decoded as
// stages.File; raw payloads are treated as file content named by message ID.
func (d *Documents) Handle(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	var f stages.File
	if msg.Encoding == transport.EncodingJSON {
		if err := msg.Decode(&f); err != nil {
			return nil, err
		}
	} else {
		f = stages.File{Path: msg.ID, Size: int64(msg.Size), Content: msg.Bytes()}
	}

	doc, err := d.Extract(f)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
