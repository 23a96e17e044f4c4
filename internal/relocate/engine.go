// =============================================================================
// NF-e Supplier Classifier - Relocation Engine
// =============================================================================
//
// The engine places documents in the destination tree. It owns that tree for
// the duration of a run and guarantees, per document, that the document is
// either fully moved or still at its original location.
//
// PATH SAFETY:
//   1. Every folder segment is cleaned (nfe.CleanName) and stripped of trailing
//      spaces and periods.
//   2. If the full path is longer than MaxPath, the immediate parent folder is
//      shortened to TruncWidth characters. The category root and the file name
//      are never shortened. This is a single best-effort attempt.
//   3. A file name already taken in the destination folder gets a _1, _2, ...
//      suffix so nothing is overwritten.
//
// MOVE:
//   os.Rename first. When the rename reports a missing path (a transient race)
//   or a cross-device move, the document is copied and the source removed.
//   Failing to remove the source is logged and ignored. Any other failure is a
//   RelocationFailure returned to the caller.
//
// =============================================================================

package relocate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/nfe"
)

const (
	// DefaultMaxPath is the longest destination path accepted as-is.
	DefaultMaxPath = 250

	// DefaultMaxRenameAttempts bounds the numeric suffix search.
	DefaultMaxRenameAttempts = 100000

	// emptySegment replaces a folder name that cleans down to nothing.
	emptySegment = "_"
)

// seams for tests
var (
	rename   = os.Rename
	copyData = copyFile
)

// =============================================================================
// ENGINE
// =============================================================================

// Options configures an Engine. Zero values use the defaults.
type Options struct {
	MaxPath           int
	TruncWidth        int
	NameLimit         int
	MaxRenameAttempts int
	Log               *logger.Logger
}

// Engine computes safe destinations and moves documents into them.
// It is safe for concurrent use.
type Engine struct {
	maxPath     int
	truncWidth  int
	nameLimit   int
	maxAttempts int
	log         *logger.Logger

	// mu serializes directory creation, name reservation and folder renames.
	mu       sync.Mutex
	reserved map[string]struct{}
}

// New creates an Engine.
func New(opt Options) *Engine {
	e := &Engine{
		maxPath:     opt.MaxPath,
		truncWidth:  opt.TruncWidth,
		nameLimit:   opt.NameLimit,
		maxAttempts: opt.MaxRenameAttempts,
		log:         opt.Log,
		reserved:    make(map[string]struct{}),
	}
	if e.maxPath <= 0 {
		e.maxPath = DefaultMaxPath
	}
	if e.truncWidth <= 0 {
		e.truncWidth = nfe.DefaultTruncWidth
	}
	if e.nameLimit <= 0 {
		e.nameLimit = nfe.DefaultNameLimit
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxRenameAttempts
	}
	if e.log == nil {
		e.log = logger.Named("relocate")
	}
	return e
}

// =============================================================================
// DESTINATION
// =============================================================================

// Destination returns the path where fileName should land under root and the
// given folder segments, after cleaning and path-length correction.
//
// PARAMETERS:
//   - root: The category root parent, e.g. the output directory. Used verbatim.
//   - segments: Folder names below root. segments[0] is the category root.
//   - fileName: The document file name. Only trailing spaces/periods are stripped.
func (e *Engine) Destination(root string, segments []string, fileName string) string {
	segs := make([]string, len(segments))
	for i, s := range segments {
		segs[i] = e.cleanSegment(s)
	}
	name := nfe.TrimReserved(filepath.Base(fileName))
	if name == "" {
		name = emptySegment
	}

	dst := joinPath(root, segs, name)
	if utf8.RuneCountInString(dst) <= e.maxPath || len(segs) < 2 {
		return dst
	}

	last := len(segs) - 1
	segs[last] = nfe.Truncate(segs[last], e.truncWidth)
	if segs[last] == "" {
		segs[last] = emptySegment
	}
	// no second attempt: a path still too long is accepted as is
	return joinPath(root, segs, name)
}

func (e *Engine) cleanSegment(s string) string {
	s = nfe.TrimReserved(nfe.CleanName(s, e.nameLimit))
	if s == "" {
		return emptySegment
	}
	return s
}

func joinPath(root string, segs []string, name string) string {
	parts := make([]string, 0, len(segs)+2)
	parts = append(parts, root)
	parts = append(parts, segs...)
	parts = append(parts, name)
	return filepath.Join(parts...)
}

// =============================================================================
// PLACEMENT
// =============================================================================

// Place moves src to its destination under root/segments and returns the
// final path. On error the document is still at src.
func (e *Engine) Place(src, root string, segments []string) (string, error) {
	dst := e.Destination(root, segments, filepath.Base(src))

	if err := e.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", faults.Wrap(err, faults.RelocationFailure, "create folder", filepath.Dir(dst))
	}

	final := e.reserve(dst)
	if err := e.Move(src, final); err != nil {
		e.release(final)
		return "", err
	}
	return final, nil
}

// EnsureDir creates dir and any missing parents. Concurrent calls for the
// same folder are serialized.
func (e *Engine) EnsureDir(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return os.MkdirAll(dir, 0o755)
}

// reserve returns dst, or dst with a numeric suffix when the name is taken on
// disk or already promised to another in-flight move.
func (e *Engine) reserve(dst string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	dir := filepath.Dir(dst)
	name := filepath.Base(dst)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := dst
	for i := 1; e.taken(candidate); i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
	e.reserved[candidate] = struct{}{}
	return candidate
}

func (e *Engine) release(path string) {
	e.mu.Lock()
	delete(e.reserved, path)
	e.mu.Unlock()
}

// taken must be called with e.mu held.
func (e *Engine) taken(path string) bool {
	if _, ok := e.reserved[path]; ok {
		return true
	}
	return exists(path)
}

// Move relocates src to dst (dst must not exist). See the package header for
// the fallback rules.
func (e *Engine) Move(src, dst string) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.EXDEV) {
		return faults.Wrap(err, faults.RelocationFailure, "move", src)
	}

	e.log.Debug().Err(err).Str("src", src).Str("dst", dst).Msg("rename failed, falling back to copy")

	if err := e.EnsureDir(filepath.Dir(dst)); err != nil {
		return faults.Wrap(err, faults.RelocationFailure, "create folder", filepath.Dir(dst))
	}
	if err := copyData(src, dst); err != nil {
		return faults.Wrap(err, faults.RelocationFailure, "copy", src)
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log.Warn().Err(err).Str("src", src).Msg("source cleanup failed after copy")
	}
	return nil
}

// =============================================================================
// FOLDER RENAME
// =============================================================================

// RenameUnique renames parent/oldName to parent/<clean newBase>, appending _1,
// _2, ... while the target name is taken. It returns the new folder name.
// A failed rename leaves the folder under oldName.
func (e *Engine) RenameUnique(parent, oldName, newBase string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cleanSegment(newBase)
	oldPath := filepath.Join(parent, oldName)

	name := base
	for i := 1; e.taken(filepath.Join(parent, name)); i++ {
		if i > e.maxAttempts {
			return "", faults.New(faults.RenameCollisionExhausted, "rename folder", oldPath,
				"no free name for %q after %d attempts", base, e.maxAttempts)
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}

	if err := rename(oldPath, filepath.Join(parent, name)); err != nil {
		return "", faults.Wrap(err, faults.RelocationFailure, "rename folder", oldPath)
	}
	return name, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies src to dst without ever overwriting dst. A partial copy is
// removed.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
