// Package audiostore implements the Audio Store (C5): deterministic
// filename derivation and an atomic write protocol for cached audio files.
//
// Filename derivation and the disk-directory layout follow the style of the
// pack's simpler disk-backed caches (see internal/hotindex's grounding in
// hammamikhairi-otto's AudioCache); the crash-safe temp-then-rename write
// protocol itself has no direct precedent in the corpus (the teacher has no
// on-disk cache tier, and the other pack cache examples write files
// directly) and is therefore the one place in this package built on the
// standard library's os.CreateTemp/os.Rename rather than a ported idiom —
// documented in DESIGN.md.
package audiostore

import (
    "crypto/sha256"
    "encoding/hex"
    "os"
    "path/filepath"
    "strconv"

    "github.com/sametakofficial/cachevoice/pkg/errors"
)

// Store writes and resolves audio files under a root directory.
type Store struct {
    root string
}

// New returns a Store rooted at dir. dir is created if it does not exist.
func New(dir string) (*Store, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, errors.Wrap(err, errors.ErrInternal, "failed to create audio store directory")
    }
    return &Store{root: dir}, nil
}

// Root returns the audio store's root directory.
func (s *Store) Root() string {
    return s.root
}

// DerivePath returns the deterministic path for (textNormalized, voiceID,
// versionNum, format): hash(text_normalized + "|" + voice_id + suffix),
// where suffix is empty for version 1 (preserving legacy v1 filenames) and
// "|v"+versionNum for versions >= 2 (spec §4.5).
func (s *Store) DerivePath(textNormalized, voiceID string, versionNum int, format string) string {
    suffix := ""
    if versionNum >= 2 {
        suffix = "|v" + strconv.Itoa(versionNum)
    }
    sum := sha256.Sum256([]byte(textNormalized + "|" + voiceID + suffix))
    name := hex.EncodeToString(sum[:]) + "." + format
    return filepath.Join(s.root, name)
}

// Write persists data to path atomically: it is written to a temporary file
// in the same directory, then renamed into place. The rename only succeeds
// after data is fully and durably on the temp file, so a reader can never
// observe a partially written final path.
func (s *Store) Write(path string, data []byte) error {
    dir := filepath.Dir(path)
    tmp, err := os.CreateTemp(dir, ".tmp-*")
    if err != nil {
        return errors.Wrap(err, errors.ErrInternal, "failed to create temp file for atomic write")
    }
    tmpName := tmp.Name()

    if _, err := tmp.Write(data); err != nil {
        tmp.Close()
        os.Remove(tmpName)
        return errors.Wrap(err, errors.ErrInternal, "failed to write temp file")
    }
    if err := tmp.Sync(); err != nil {
        tmp.Close()
        os.Remove(tmpName)
        return errors.Wrap(err, errors.ErrInternal, "failed to sync temp file")
    }
    if err := tmp.Close(); err != nil {
        os.Remove(tmpName)
        return errors.Wrap(err, errors.ErrInternal, "failed to close temp file")
    }

    if err := os.Rename(tmpName, path); err != nil {
        os.Remove(tmpName)
        return errors.Wrap(err, errors.ErrInternal, "failed to rename temp file into place")
    }
    return nil
}

// Read reads the file at path. A missing file is reported as os.IsNotExist
// on the returned error so callers can distinguish FileMissingOnHit.
func (s *Store) Read(path string) ([]byte, error) {
    return os.ReadFile(path)
}

// Exists reports whether path exists and is a regular file.
func (s *Store) Exists(path string) bool {
    info, err := os.Stat(path)
    return err == nil && info.Mode().IsRegular()
}

// Delete removes the file at path. A missing file is not an error (spec
// §4.9: "missing file is not an error" during eviction).
func (s *Store) Delete(path string) error {
    err := os.Remove(path)
    if err != nil && !os.IsNotExist(err) {
        return errors.Wrap(err, errors.ErrInternal, "failed to delete audio file")
    }
    return nil
}

// ListTopLevel lists regular files directly under the store root,
// excluding subdirectories — in particular the fillers/ subdirectory the
// Reconciler must leave alone (spec §4.10).
func (s *Store) ListTopLevel() ([]string, error) {
    entries, err := os.ReadDir(s.root)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrInternal, "failed to list audio store directory")
    }

    var out []string
    for _, e := range entries {
        if e.IsDir() {
            continue
        }
        out = append(out, filepath.Join(s.root, e.Name()))
    }
    return out, nil
}
