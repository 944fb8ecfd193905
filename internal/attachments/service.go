// Package attachments stores files bound to transactions. Metadata lives in
// the ledger store, bytes in a BlobStore, and every access is checked
// against the owner of the transaction.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/log"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps an upload when the caller does not configure a limit.
const DefaultMaxBytes = 5 << 20

var allowedExtensions = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// maxFileNameBytes bounds stored file names.
const maxFileNameBytes = 255

// contentTypeFor maps an accepted extension to the type the file is served
// with.
func contentTypeFor(fileName string) (string, bool) {
	ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(fileName))]
	return ct, ok
}

// Upload describes an incoming file.
type Upload struct {
	OwnerID       int64
	TransactionID int64
	FileName      string
	Content       io.Reader
}

// StatsInvalidator is told when an owner's set of attachments changes.
type StatsInvalidator interface {
	Invalidate(ownerID int64)
}

type Service struct {
	store    ledger.Store
	blobs    BlobStore
	maxBytes int64
	stats    StatsInvalidator
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithStats(st StatsInvalidator) Option {
	return func(s *Service) { s.stats = st }
}

func NewService(store ledger.Store, blobs BlobStore, maxBytes int64, logger *log.Logger, opts ...Option) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = log.Discard()
	}
	s := &Service{
		store:    store,
		blobs:    blobs,
		maxBytes: maxBytes,
		logger:   logger.WithComponent(log.ComponentAttachment),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores the file and binds it to the transaction. The blob is
// written first and removed again if the metadata cannot be committed.
func (s *Service) Upload(ctx context.Context, u Upload) (core.Attachment, error) {
	name := sanitizeFileName(u.FileName)
	if name == "" {
		return core.Attachment{}, &core.ValidationError{Field: "file", Message: "file name is required"}
	}
	contentType, ok := contentTypeFor(name)
	if !ok {
		return core.Attachment{}, &core.ValidationError{Field: "file", Message: "only .jpeg, .jpg, .png, .webp and .pdf files are accepted"}
	}
	if u.Content == nil {
		return core.Attachment{}, &core.ValidationError{Field: "file", Message: "file content is required"}
	}

	if _, _, err := ledger.AuthorizeTransaction(ctx, s.store, u.OwnerID, u.TransactionID); err != nil {
		return core.Attachment{}, err
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	size, err := s.blobs.Put(ctx, stored, u.Content, s.maxBytes)
	if errors.Is(err, ErrTooLarge) {
		return core.Attachment{}, &core.ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds %d bytes", s.maxBytes)}
	}
	if err != nil {
		return core.Attachment{}, fmt.Errorf("store blob: %w", err)
	}

	var out core.Attachment
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		// re-check inside the unit: the transaction may have been retracted
		if _, _, err := ledger.AuthorizeTransaction(ctx, tx, u.OwnerID, u.TransactionID); err != nil {
			return err
		}
		a, err := tx.InsertAttachment(ctx, core.Attachment{
			TransactionID: u.TransactionID,
			OwnerID:       u.OwnerID,
			FileName:      name,
			StoredName:    stored,
			ContentType:   contentType,
			Size:          size,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		s.removeBlob(ctx, stored)
		if errors.Is(err, ledger.ErrStale) {
			return core.Attachment{}, fmt.Errorf("upload attachment: %w", core.ErrConflict)
		}
		return core.Attachment{}, err
	}

	s.invalidate(out.OwnerID)
	s.logger.InfoContext(ctx, "Attachment stored",
		log.FieldOwnerID, out.OwnerID,
		log.FieldTransactionID, out.TransactionID,
		log.FieldAttachmentID, out.ID,
		"size", out.Size)
	return out, nil
}

// List returns the attachments of a transaction the owner can see.
func (s *Service) List(ctx context.Context, ownerID, transactionID int64) ([]core.Attachment, error) {
	if _, _, err := ledger.AuthorizeTransaction(ctx, s.store, ownerID, transactionID); err != nil {
		return nil, err
	}
	out, err := s.store.ListAttachments(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

// Open returns the attachment metadata and a reader over its bytes. The
// caller closes the reader.
func (s *Service) Open(ctx context.Context, ownerID, attachmentID int64) (core.Attachment, io.ReadCloser, error) {
	a, err := s.authorize(ctx, s.store, ownerID, attachmentID)
	if err != nil {
		return core.Attachment{}, nil, err
	}
	rc, err := s.blobs.Open(ctx, a.StoredName)
	if errors.Is(err, ErrBlobNotFound) {
		s.logger.WarnContext(ctx, "Attachment row has no blob",
			log.FieldAttachmentID, a.ID,
			"stored_name", a.StoredName)
		return core.Attachment{}, nil, fmt.Errorf("attachment %d: %w", attachmentID, core.ErrNotFound)
	}
	if err != nil {
		return core.Attachment{}, nil, err
	}
	return a, rc, nil
}

// Delete removes the attachment row and then its blob.
func (s *Service) Delete(ctx context.Context, ownerID, attachmentID int64) (core.Attachment, error) {
	var removed core.Attachment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := s.authorize(ctx, tx, ownerID, attachmentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAttachment(ctx, a.ID); err != nil {
			return fmt.Errorf("delete attachment: %w", err)
		}
		removed = a
		return nil
	})
	if errors.Is(err, ledger.ErrStale) {
		return core.Attachment{}, fmt.Errorf("delete attachment: %w", core.ErrConflict)
	}
	if err != nil {
		return core.Attachment{}, err
	}

	s.invalidate(ownerID)
	s.removeBlob(ctx, removed.StoredName)
	return removed, nil
}

// Purge removes the blobs of attachment rows that were already deleted by
// the ledger, as happens on retraction or cascade close. Failures are logged.
func (s *Service) Purge(ctx context.Context, removed []core.Attachment) int {
	n := 0
	for _, a := range removed {
		if s.removeBlob(ctx, a.StoredName) {
			n++
		}
	}
	return n
}

func (s *Service) invalidate(ownerID int64) {
	if s.stats != nil {
		s.stats.Invalidate(ownerID)
	}
}

type attachmentLookup interface {
	ledger.Lookup
	GetAttachment(ctx context.Context, id int64) (core.Attachment, error)
}

// authorize resolves an attachment through its transaction so ownership is
// decided by the ledger, not by the attachment row alone.
func (s *Service) authorize(ctx context.Context, l attachmentLookup, ownerID, attachmentID int64) (core.Attachment, error) {
	notFound := fmt.Errorf("attachment %d: %w", attachmentID, core.ErrNotFound)
	if ownerID <= 0 || attachmentID <= 0 {
		return core.Attachment{}, notFound
	}

	a, err := l.GetAttachment(ctx, attachmentID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Attachment{}, notFound
	}
	if err != nil {
		return core.Attachment{}, fmt.Errorf("get attachment: %w", err)
	}

	if _, _, err := ledger.AuthorizeTransaction(ctx, l, ownerID, a.TransactionID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Attachment{}, notFound
		}
		return core.Attachment{}, err
	}
	return a, nil
}

func (s *Service) removeBlob(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	// the request may already be cancelled; cleanup must still run
	err := s.blobs.Delete(context.WithoutCancel(ctx), name)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrBlobNotFound) {
		s.logger.ErrorContext(ctx, "Failed to remove blob",
			log.FieldError, err,
			"stored_name", name)
	}
	return false
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if len(name) > maxFileNameBytes {
		ext := filepath.Ext(name)
		if len(ext) >= maxFileNameBytes {
			ext = ""
		}
		cut := maxFileNameBytes - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	return name
}

// ContentDisposition builds a header value that downloads the file under its
// original name.
func ContentDisposition(a core.Attachment) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName})
}
