package transform

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages"
)

const page = `<!DOCTYPE html>
<html>
<head>
  <title>  Quarterly   Report </title>
  <style>body { color: red; }</style>
</head>
<body>
  <nav>Home | About</nav>
  <article id="main"><h1>Revenue</h1><p>Up 10% &amp; rising.</p></article>
  <script>alert("ignored")</script>
</body>
</html>`

func newDocuments(t *testing.T, cfg DocumentsConfig) *Documents {
	t.Helper()
	d, err := NewDocuments(cfg)
	require.NoError(t, err)
	return d
}

func TestExtractHTML(t *testing.T) {
	tests := []struct {
		name     string
		cfg      DocumentsConfig
		wantText string
	}{
		{"body", DocumentsConfig{}, "Home | About Revenue Up 10% & rising."},
		{"css selector", DocumentsConfig{Selector: "#main"}, "Revenue Up 10% & rising."},
		{"xpath", DocumentsConfig{XPath: "//article/p"}, "Up 10% & rising."},
		{"truncated", DocumentsConfig{Selector: "#main", MaxText: 7}, "Revenue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := newDocuments(t, tt.cfg).Extract(stages.File{Path: "/r/q.html", Content: []byte(page)})
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(doc.MIME, "text/html"), doc.MIME)
			assert.Equal(t, "Quarterly Report", doc.Title)
			assert.Equal(t, tt.wantText, doc.Text)
			assert.Equal(t, len(strings.Fields(tt.wantText)), doc.Words)
			assert.NotContains(t, doc.Text, "alert")
			assert.NotContains(t, doc.Text, "color")
		})
	}
}

func TestExtractHTMLDeclaredCharset(t *testing.T) {
	content := []byte("<html><head><meta charset=\"iso-8859-1\"><title>Caf\xe9</title></head><body><p>cr\xe8me br\xfbl\xe9e</p></body></html>")

	doc, err := newDocuments(t, DocumentsConfig{}).Extract(stages.File{Content: content})
	require.NoError(t, err)

	assert.Equal(t, "Café", doc.Title)
	assert.Equal(t, "crème brûlée", doc.Text)
	assert.Equal(t, "windows-1252", doc.Charset)
}

func TestExtractPlainText(t *testing.T) {
	content := "# Release notes\n\ncafé crème brûlée à la mode\n"

	doc, err := newDocuments(t, DocumentsConfig{}).Extract(stages.File{Path: "notes.md", Content: []byte(content), Size: 99})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc.MIME, "text/plain"), doc.MIME)
	assert.Equal(t, "utf-8", doc.Charset)
	assert.Equal(t, "Release notes", doc.Title)
	assert.Equal(t, "# Release notes café crème brûlée à la mode", doc.Text)
	assert.Equal(t, 9, doc.Words)
	assert.Equal(t, int64(99), doc.Size)
}

func TestExtractLegacyEncodedText(t *testing.T) {
	content := []byte(strings.Repeat("Le caf\xe9 est tr\xe8s bon et la cr\xe8me br\xfbl\xe9e aussi. ", 20))

	doc, err := newDocuments(t, DocumentsConfig{}).Extract(stages.File{Content: content})
	require.NoError(t, err)

	assert.NotEqual(t, "utf-8", doc.Charset)
	assert.True(t, utf8.ValidString(doc.Text))
	assert.Contains(t, doc.Text, "Le caf")
}

func TestExtractBinary(t *testing.T) {
	content := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

	doc, err := newDocuments(t, DocumentsConfig{}).Extract(stages.File{Path: "logo.png", Content: content})
	require.NoError(t, err)

	assert.Equal(t, "image/png", doc.MIME)
	assert.Empty(t, doc.Text)
	assert.Zero(t, doc.Words)
	assert.Equal(t, int64(len(content)), doc.Size)
}

func TestExtractDigest(t *testing.T) {
	content := []byte("same bytes")
	sum := blake2b.Sum256(content)

	d := newDocuments(t, DocumentsConfig{})
	a, err := d.Extract(stages.File{Path: "a", Content: content})
	require.NoError(t, err)
	b, err := d.Extract(stages.File{Path: "b", Content: content})
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(sum[:]), a.Digest)
	assert.Equal(t, a.Digest, b.Digest)
}

func TestNewDocumentsInvalidXPath(t *testing.T) {
	_, err := NewDocuments(DocumentsConfig{XPath: "//p[@"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n))
	}
}

func TestDocumentsInPipeline(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.QueueName = "documents"
	cfg.OverflowDir = t.TempDir()
	cfg.InlineThreshold = 64
	cfg.Transform.Processes = 2
	cfg.DrainTimeout = 10 * time.Second

	c, err := pipeline.New(cfg)
	require.NoError(t, err)

	files := []stages.File{
		{Path: "a.html", Content: []byte(page)},
		{Path: "b.txt", Content: []byte("plain words here")},
	}

	var (
		mu   sync.Mutex
		docs = map[string]stages.Document{}
	)

	require.NoError(t, c.OnStart(pipeline.RoleSource, func(ctx context.Context, w *pipeline.Worker) error {
		for _, f := range files {
			if err := w.Send(ctx, f); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, c.OnMessage(pipeline.RoleTransform, newDocuments(t, DocumentsConfig{}).Handle))
	require.NoError(t, c.OnMessage(pipeline.RoleSink, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		var doc stages.Document
		if err := msg.Decode(&doc); err != nil {
			return nil, err
		}
		mu.Lock()
		docs[doc.Path] = doc
		mu.Unlock()
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.Len(t, docs, 2)
	assert.Equal(t, "Quarterly Report", docs["a.html"].Title)
	assert.Equal(t, 3, docs["b.txt"].Words)
}
