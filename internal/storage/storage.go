// Package storage keeps uploaded files and generated artifacts on local disk.
// Rows reference files by a slash-separated path relative to the root.
package storage

import (
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	DirPosters     = "posters"
	DirInvitations = "invitations"
	DirGallery     = "gallery"
	DirTickets     = "tickets"
)

var (
	ImageExtensions    = []string{".png", ".jpg", ".jpeg", ".gif"}
	DocumentExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".pdf"}
)

type Store struct {
	root    string
	maxSize int64
}

func New(root string, maxSize int64) (*Store, error) {
	for _, dir := range []string{DirPosters, DirInvitations, DirGallery, DirTickets} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s directory", dir)
		}
	}
	return &Store{root: root, maxSize: maxSize}, nil
}

func (s *Store) Root() string {
	return s.root
}

// publicDirs are served without a session. Tickets carry a redeemable code
// and are only handed out through the authenticated download route.
var publicDirs = []string{DirPosters, DirInvitations, DirGallery}

// Public exposes the media directories for direct download. Directory
// listings and anything outside publicDirs read as missing.
func (s *Store) Public() http.FileSystem {
	return publicFS{http.Dir(s.root)}
}

type publicFS struct {
	fs http.FileSystem
}

func (p publicFS) Open(name string) (http.File, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	dir, _, _ := strings.Cut(clean, "/")
	if !contains(publicDirs, dir) {
		return nil, fs.ErrNotExist
	}
	f, err := p.fs.Open("/" + clean)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// SaveUpload validates an uploaded file and stores it under dir with a fresh
// unique name, returning its relative path.
func (s *Store) SaveUpload(dir string, fh *multipart.FileHeader, allowed []string) (string, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return "", apperr.Validation("file %s exceeds the %d MB limit", fh.Filename, s.maxSize>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "open upload")
	}
	defer f.Close()
	return s.Save(dir, fh.Filename, f, allowed)
}

func (s *Store) Save(dir, originalName string, r io.Reader, allowed []string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !contains(allowed, ext) {
		return "", apperr.Validation("file type %q is not allowed (allowed: %s)", ext, strings.Join(allowed, ", "))
	}

	rel := path.Join(dir, uuid.NewString()+ext)
	dst, err := os.Create(s.abs(rel))
	if err != nil {
		return "", errors.Wrap(err, "create file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(dst.Name())
		return "", errors.Wrap(err, "write file")
	}
	return rel, nil
}

// Write stores generated content at a fixed relative path, replacing any
// previous version.
func (s *Store) Write(rel string, data []byte) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write file")
	}
	return errors.Wrap(os.Rename(tmp, full), "replace file")
}

func (s *Store) Read(rel string) ([]byte, error) {
	full, err := s.Path(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("file %s not found", rel)
	}
	return data, err
}

func (s *Store) Remove(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove file")
	}
	return nil
}

// Path resolves rel against the root and refuses anything that escapes it.
func (s *Store) Path(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", apperr.Validation("invalid file path %q", rel)
	}
	return s.abs(clean[1:]), nil
}

func (s *Store) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func TicketPath(ticketID string) string {
	return path.Join(DirTickets, "ticket_"+ticketID+".pdf")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
