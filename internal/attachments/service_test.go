package attachments

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir     string
	engine  *ledger.Engine
	service *Service
	txnID   int64
}

func newFixture(t *testing.T, maxBytes int64) fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	engine := ledger.NewEngine(store)
	budget, err := engine.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "Travel", Amount: decimal.NewFromInt(500), Type: "monthly"})
	require.NoError(t, err)
	res, err := engine.Record(ctx, core.RecordRequest{BudgetID: budget.ID, OwnerID: 1, Amount: decimal.NewFromInt(40), Label: "train", Type: core.Sortie})
	require.NoError(t, err)

	dir := t.TempDir()
	blobs, err := NewDirStore(dir)
	require.NoError(t, err)

	return fixture{
		dir:     dir,
		engine:  engine,
		service: NewService(store, blobs, maxBytes, nil),
		txnID:   res.Transaction.ID,
	}
}

func (f fixture) upload(t *testing.T, owner int64, name, body string) (core.Attachment, error) {
	t.Helper()
	return f.service.Upload(context.Background(), Upload{
		OwnerID:       owner,
		TransactionID: f.txnID,
		FileName:      name,
		Content:       strings.NewReader(body),
	})
}

func blobCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestUploadAndOpen(t *testing.T) {
	f := newFixture(t, 1024)

	a, err := f.upload(t, 1, "ticket.PDF", "%PDF-1.4 data")
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, "ticket.PDF", a.FileName)
	assert.Equal(t, "application/pdf", a.ContentType)
	assert.Equal(t, int64(len("%PDF-1.4 data")), a.Size)
	assert.True(t, strings.HasSuffix(a.StoredName, ".pdf"))
	assert.NotEqual(t, a.FileName, a.StoredName)

	got, rc, err := f.service.Open(context.Background(), 1, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 data", string(body))
	assert.Equal(t, a.ID, got.ID)

	list, err := f.service.List(context.Background(), 1, f.txnID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name  string
		owner int64
		file  string
		body  string
		isErr error
	}{
		{"extension not allowed", 1, "script.exe", "MZ", core.ErrValidation},
		{"no extension", 1, "README", "text", core.ErrValidation},
		{"empty name", 1, "  ", "x", core.ErrValidation},
		{"too large", 1, "photo.png", strings.Repeat("x", 65), core.ErrValidation},
		{"foreign transaction", 2, "photo.png", "x", core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 64)
			_, err := f.upload(t, tt.owner, tt.file, tt.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.isErr)
			assert.Zero(t, blobCount(t, f.dir), "no blob may be left behind")
		})
	}
}

func TestUploadStripsPathComponents(t *testing.T) {
	f := newFixture(t, 1024)

	a, err := f.upload(t, 1, "../../etc/receipt.jpg", "jpeg")
	require.NoError(t, err)
	assert.Equal(t, "receipt.jpg", a.FileName)
	assert.Equal(t, 1, blobCount(t, f.dir))
}

func TestOpenAndDeleteAreOwnerScoped(t *testing.T) {
	f := newFixture(t, 1024)
	a, err := f.upload(t, 1, "scan.webp", "webp")
	require.NoError(t, err)

	_, _, err = f.service.Open(context.Background(), 2, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.service.Delete(context.Background(), 2, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, blobCount(t, f.dir))

	_, err = f.service.List(context.Background(), 2, f.txnID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	f := newFixture(t, 1024)
	a, err := f.upload(t, 1, "scan.png", "png")
	require.NoError(t, err)

	removed, err := f.service.Delete(context.Background(), 1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.StoredName, removed.StoredName)
	assert.Zero(t, blobCount(t, f.dir))

	_, _, err = f.service.Open(context.Background(), 1, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.service.Delete(context.Background(), 1, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPurgeAfterRetract(t *testing.T) {
	f := newFixture(t, 1024)
	_, err := f.upload(t, 1, "a.png", "a")
	require.NoError(t, err)
	_, err = f.upload(t, 1, "b.jpg", "b")
	require.NoError(t, err)

	res, err := f.engine.Retract(context.Background(), core.RetractRequest{TransactionID: f.txnID, OwnerID: 1})
	require.NoError(t, err)
	require.Len(t, res.Attachments, 2)

	assert.Equal(t, 2, f.service.Purge(context.Background(), res.Attachments))
	assert.Zero(t, blobCount(t, f.dir))
	assert.Zero(t, f.service.Purge(context.Background(), res.Attachments), "purging twice is harmless")
}

func TestDirStoreRejectsTraversal(t *testing.T) {
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = d.Put(context.Background(), "../escape.png", bytes.NewReader([]byte("x")), 10)
	assert.Error(t, err)
	_, err = d.Open(context.Background(), "sub/file.png")
	assert.Error(t, err)
	assert.ErrorIs(t, d.Delete(context.Background(), "missing.png"), ErrBlobNotFound)
}

func TestDirStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDirStore(dir)
	require.NoError(t, err)

	_, err = d.Put(context.Background(), "big.png", strings.NewReader("0123456789"), 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestContentDisposition(t *testing.T) {
	got := ContentDisposition(core.Attachment{FileName: "reçu mai.pdf"})
	assert.True(t, strings.HasPrefix(got, "attachment;"))
	assert.Contains(t, got, "filename")
}

func TestContentTypeFor(t *testing.T) {
	for name, want := range map[string]string{
		"a.jpeg": "image/jpeg",
		"a.JPG":  "image/jpeg",
		"a.png":  "image/png",
		"a.webp": "image/webp",
		"a.pdf":  "application/pdf",
	} {
		got, ok := contentTypeFor(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	for _, name := range []string{"a.gif", "a.pdf.exe", "pdf", "a."} {
		_, ok := contentTypeFor(name)
		assert.False(t, ok, name)
	}
}

func TestSanitizeFileNameKeepsUTF8(t *testing.T) {
	cases := map[string]string{
		"two-byte runes":   strings.Repeat("é", 200) + ".pdf",
		"three-byte runes": strings.Repeat("€", 100) + ".png",
		"four-byte runes":  strings.Repeat("📄", 80) + ".jpg",
		"long extension":   "a." + strings.Repeat("é", 200),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got := sanitizeFileName(in)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), maxFileNameBytes)
			assert.NotEmpty(t, got)
		})
	}

	f := newFixture(t, 1024)
	a, err := f.upload(t, 1, strings.Repeat("é", 200)+".pdf", "%PDF")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(a.FileName))
	assert.True(t, strings.HasSuffix(a.FileName, ".pdf"))
	assert.Equal(t, 250, len(strings.TrimSuffix(a.FileName, ".pdf")))
	assert.Equal(t, "application/pdf", a.ContentType)
}
