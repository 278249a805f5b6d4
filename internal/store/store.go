// Package store implements the artifact store (C1): atomic JSON/text
// writes, canonical serialization, SHA-256 digests, and run-root path
// containment checks. Every other package in resorch that touches disk
// routes through here.
package store

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/resorch/resorch/internal/errs"
)

// AtomicWriteText writes bytes to path by writing a sibling temp file and
// renaming it into place, creating parent directories as needed. Rename
// is atomic on a single filesystem, so readers never observe a partial
// write.
func AtomicWriteText(path string, data []byte) *errs.Error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.WriteFailed, "create parent directory", err, errs.D("path", dir))
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "create temp file", err, errs.D("path", path))
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.WriteFailed, "write temp file", err, errs.D("path", path))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.WriteFailed, "sync temp file", err, errs.D("path", path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.WriteFailed, "close temp file", err, errs.D("path", path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.WriteFailed, "rename into place", err, errs.D("path", path))
	}
	return nil
}

// AtomicWriteJSON canonicalizes value and atomically writes it to path.
func AtomicWriteJSON(path string, value any) *errs.Error {
	canon, err := CanonicalizeJSON(value)
	if err != nil {
		return errs.Wrap(errs.InvalidJSON, "canonicalize value", err, errs.D("path", path))
	}
	return AtomicWriteText(path, canon)
}

// ReadJSON reads and decodes the JSON document at path into dest.
func ReadJSON(path string, dest any) *errs.Error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Wrap(errs.NotFound, "artifact not found", err, errs.D("path", path))
		}
		return errs.Wrap(errs.ReadFailed, "read artifact", err, errs.D("path", path))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errs.Wrap(errs.InvalidJSON, "parse artifact", err, errs.D("path", path))
	}
	return nil
}

// ReadText reads the raw bytes at path.
func ReadText(path string) ([]byte, *errs.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "artifact not found", err, errs.D("path", path))
		}
		return nil, errs.Wrap(errs.ReadFailed, "read artifact", err, errs.D("path", path))
	}
	return data, nil
}

// AppendLine appends line plus a trailing newline to the file at path,
// creating parent directories and the file itself if needed. A single
// os.O_APPEND write of one line relies on the OS-level guarantee of
// atomic append for writes smaller than the platform's atomic-write
// limit, matching the runs-ledger/telemetry/audit append-only contract.
func AppendLine(path string, line []byte) *errs.Error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.WriteFailed, "create parent directory", err, errs.D("path", dir))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "open append file", err, errs.D("path", path))
	}
	defer f.Close()
	buf := append(append([]byte{}, line...), '\n')
	if _, err := f.Write(buf); err != nil {
		return errs.Wrap(errs.WriteFailed, "append line", err, errs.D("path", path))
	}
	return nil
}

// ReadLines reads path and returns its non-empty lines. Missing files
// yield an empty slice rather than NOT_FOUND, matching the pattern of
// JSONL artifacts that simply don't exist yet on a fresh run.
func ReadLines(path string) ([]string, *errs.Error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.ReadFailed, "open artifact", err, errs.D("path", path))
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "scan artifact", err, errs.D("path", path))
	}
	return lines, nil
}

// Exists reports whether path exists on disk (any type), swallowing the
// distinction between "absent" and other stat errors other than
// not-exist, since callers only ever care about presence here.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CanonicalizeJSON re-marshals value with object keys sorted and no
// insignificant whitespace, so repeated writes of equal values produce
// byte-identical output.
func CanonicalizeJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// SHA256HexLowerUTF8 returns the lowercase hex SHA-256 digest of s.
func SHA256HexLowerUTF8(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PromptDigest returns the "sha256:<hex>" form used throughout resorch
// for prompt and input digests.
func PromptDigest(s string) string {
	return "sha256:" + SHA256HexLowerUTF8(s)
}

// SHA256DigestForJSON canonicalizes value then returns its prompt-digest
// form, used for manifest/gates inputs_digest fields.
func SHA256DigestForJSON(value any) (string, error) {
	canon, err := CanonicalizeJSON(value)
	if err != nil {
		return "", err
	}
	return PromptDigest(string(canon)), nil
}

// WithinRoot resolves candidate (which may be relative to root) against
// root, following symlinks on both, and refuses any path that escapes
// root either lexically or after resolution. It returns the cleaned
// absolute path on success.
func WithinRoot(root, candidate string) (string, *errs.Error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errs.Wrap(errs.PathTraversal, "resolve run root", err, errs.D("root", root))
	}
	joined := candidate
	if !filepath.IsAbs(candidate) {
		joined = filepath.Join(absRoot, candidate)
	}
	cleaned := filepath.Clean(joined)
	if !isLexicallyWithin(absRoot, cleaned) {
		return "", errs.New(errs.PathTraversal, "path escapes run root", errs.D("root", root, "candidate", candidate))
	}

	resolvedRoot, rerr := realpathBestEffort(absRoot)
	if rerr != nil {
		return "", errs.Wrap(errs.PathTraversal, "resolve run root symlinks", rerr, errs.D("root", root))
	}
	// The candidate itself may not exist yet (we're about to create it);
	// resolve the deepest existing ancestor instead.
	resolvedCandidate, rerr := realpathExistingAncestor(cleaned)
	if rerr != nil {
		return "", errs.Wrap(errs.PathTraversal, "resolve candidate symlinks", rerr, errs.D("candidate", cleaned))
	}
	if !isLexicallyWithin(resolvedRoot, resolvedCandidate) {
		return "", errs.New(errs.PathTraversal, "path escapes run root after symlink resolution", errs.D("root", root, "candidate", candidate))
	}
	return cleaned, nil
}

// IsPathWithin reports whether candidate resolves inside base, swallowing
// the error — used by read-only checks that only need a boolean.
func IsPathWithin(base, candidate string) bool {
	_, err := WithinRoot(base, candidate)
	return err == nil
}

func isLexicallyWithin(base, candidate string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func realpathBestEffort(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return "", err
	}
	return resolved, nil
}

func realpathExistingAncestor(p string) (string, error) {
	cur := p
	var suffix []string
	for {
		if _, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

// ValidPathSegment reports whether s is safe to use as a single path
// component when building an on-disk path: non-empty, no path
// separators, and no ".." anywhere in it. Used for every identifier
// (run_id, perspective_id, ...) that later gets joined onto a run root.
func ValidPathSegment(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, `/\`) {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	return true
}

// ValidRunID validates invariant 8: run_id may not contain path
// separators or "..".
func ValidRunID(runID string) bool {
	return ValidPathSegment(runID)
}
