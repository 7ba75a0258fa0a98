package archivey

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davitf/archivey/cache"
	"github.com/davitf/archivey/internal/backend"
	"github.com/davitf/archivey/internal/decompress"
	"github.com/davitf/archivey/internal/stream"
)

// errBroken is returned once a single-pass cursor failed mid-member.
var errBroken = fmt.Errorf("%w: reader lost its position after a failed read", ErrArchiveClosed)

// sessionIDs hands out session ids. It is seeded from the clock so
// processes sharing a disk cache do not collide.
var sessionIDs atomic.Uint64

func init() {
	sessionIDs.Store(uint64(time.Now().UnixNano())) //nolint:gosec // any seed works
}

type state uint8

const (
	stateUnopened state = iota
	stateEnumerating
	stateEnumerated
	stateBroken
)

// contentState tracks where the bytes of a single-pass member can be found.
type contentState uint8

const (
	contentLive   contentState = iota // current member, not captured yet
	contentCached                     // committed to the content cache
	contentEmpty                      // known to have no bytes
	contentLost                       // moved past without capture
)

// record is the registry entry of one member.
type record struct {
	id      uint64
	index   int
	entry   *backend.Entry
	content contentState
}

// cursor is the current member of a single-pass backend.
type cursor struct {
	rec    *record
	br     *stream.BlockReader
	tee    *teeSource
	handed bool
}

// Reader reads the members of one archive.
//
// Members are returned in the physical order of the container. Random-access
// backends can open any member at any time. Single-pass backends (streams,
// compressed tars, rar) can open the current member, and earlier file
// members whose content was captured into the content cache as the cursor
// moved past them.
//
// A Reader is not safe for concurrent use, except that Close may be called
// while a read is in flight and member handles from random-access backends
// may be read concurrently.
type Reader struct {
	name    string
	format  Format
	be      backend.Backend
	ra      backend.RandomAccess
	st      backend.Streaming
	src     io.Closer
	opts    *options
	log     *zap.Logger
	cache   cache.Cache
	pool    *decompress.Pool
	session uint64

	closed atomic.Bool

	mu      sync.Mutex
	state   state
	members []*Member
	records map[*Member]*record
	byName  map[string]*Member
	cur     *cursor
	gen     uint64
	info    *ArchiveInfo
	keys    []cache.Key
}

// newReader wraps an opened backend. src, when set, is closed with the reader.
func newReader(be backend.Backend, src io.Closer, name string, o *options) *Reader {
	r := &Reader{
		name:    name,
		format:  be.Format(),
		be:      be,
		src:     src,
		opts:    o,
		session: sessionIDs.Add(1),
		records: make(map[*Member]*record),
		byName:  make(map[string]*Member),
	}
	if ra, ok := be.(backend.RandomAccess); ok && be.Capabilities().RandomReopen {
		r.ra = ra
	} else if st, ok := be.(backend.Streaming); ok {
		r.st = st
		r.cache = o.cache
	}
	r.log = o.log.With(zap.String("format", r.format.String()), zap.Uint64("session", r.session))
	r.log.Debug("archive opened", zap.String("source", name), zap.Bool("random_access", r.ra != nil))
	return r
}

// Name returns the name the archive was opened with.
func (r *Reader) Name() string { return r.name }

// Format returns the detected container format.
func (r *Reader) Format() Format { return r.format }

// Capabilities returns what the backend can do.
func (r *Reader) Capabilities() Capabilities { return r.be.Capabilities() }

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// check fails once the reader is closed or broken. Callers hold mu.
func (r *Reader) check(op, name string) error {
	if r.closed.Load() {
		return pathErr(op, name, ErrArchiveClosed)
	}
	if r.state == stateBroken {
		return pathErr(op, name, errBroken)
	}
	return nil
}

// Info returns archive-level metadata. Single-pass backends may learn
// details (such as encryption) during enumeration; their info is memoized
// once enumeration completes.
func (r *Reader) Info() (*ArchiveInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("info", r.name); err != nil {
		return nil, err
	}
	if r.info != nil {
		return r.info, nil
	}
	info, err := r.be.Info()
	if err != nil {
		return nil, pathErr("info", r.name, err)
	}
	if r.ra != nil || r.state == stateEnumerated {
		r.info = info
	}
	return info, nil
}

// IterMembers returns an iterator over the members in archive order.
//
// Every iteration first replays the members already seen, then continues
// the backend cursor. Iteration stops at the first error, which is yielded
// with a nil member.
func (r *Reader) IterMembers() iter.Seq2[*Member, error] {
	return func(yield func(*Member, error) bool) {
		for i := 0; ; i++ {
			m, err := r.memberAt(i)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (r *Reader) memberAt(i int) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("iterate", r.name); err != nil {
		return nil, err
	}
	if i < len(r.members) {
		return r.members[i], nil
	}
	m, err := r.next()
	if err != nil && err != io.EOF {
		return nil, pathErr("iterate", r.name, err)
	}
	return m, err
}

// Members returns all members, enumerating the whole archive.
func (r *Reader) Members() ([]*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("members", r.name); err != nil {
		return nil, err
	}
	if err := r.drain(); err != nil {
		return nil, pathErr("members", r.name, err)
	}
	return slices.Clone(r.members), nil
}

// Member returns the last member registered under name. Directory members
// are found with or without their trailing slash. The whole archive is
// enumerated first.
func (r *Reader) Member(name string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("member", name); err != nil {
		return nil, err
	}
	if err := r.drain(); err != nil {
		return nil, pathErr("member", name, err)
	}
	m, ok := r.lookup(name)
	if !ok {
		return nil, pathErr("member", name, ErrMemberNotFound)
	}
	return m, nil
}

func (r *Reader) lookup(name string) (*Member, bool) {
	if m, ok := r.byName[name]; ok {
		return m, true
	}
	if strings.HasSuffix(name, "/") {
		m, ok := r.byName[strings.TrimSuffix(name, "/")]
		return m, ok
	}
	m, ok := r.byName[name+"/"]
	return m, ok
}

// drain enumerates to the end. Callers hold mu.
func (r *Reader) drain() error {
	for {
		_, err := r.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// next advances the backend cursor by one member. Callers hold mu.
func (r *Reader) next() (*Member, error) {
	switch r.state {
	case stateEnumerated:
		return nil, io.EOF
	case stateBroken:
		return nil, errBroken
	}
	r.state = stateEnumerating

	if c := r.cur; c != nil {
		r.cur = nil
		if err := r.capture(c); err != nil {
			r.breakCursor(err)
			return nil, err
		}
	}

	e, err := r.be.Next()
	if err == io.EOF {
		r.state = stateEnumerated
		r.log.Debug("enumeration complete", zap.Int("members", len(r.members)))
		return nil, io.EOF
	}
	if err != nil {
		if r.st != nil {
			r.breakCursor(err)
		}
		return nil, err
	}
	return r.register(e), nil
}

func (r *Reader) breakCursor(err error) {
	r.state = stateBroken
	if r.cur != nil && r.cur.tee != nil {
		r.cur.tee.discard()
	}
	r.cur = nil
	r.log.Warn("single-pass cursor failed", zap.Error(err))
}

// register records a new member. Callers hold mu.
func (r *Reader) register(e *backend.Entry) *Member {
	m := e.Member
	rec := &record{
		id:    uint64(len(r.members)) + 1,
		index: len(r.members),
		entry: e,
	}
	r.members = append(r.members, m)
	r.records[m] = rec
	r.byName[m.Filename] = m

	if r.st != nil {
		rec.content = contentEmpty
		if m.IsFile() {
			r.cur = &cursor{rec: rec}
			switch src := r.st.Current(); {
			case src != nil:
				r.cur.tee = &teeSource{src: src}
				r.cur.br = stream.NewBlockReader(r.cur.tee)
				rec.content = contentLive
				if r.cache != nil {
					key := r.key(rec)
					w, err := r.cache.Writer(key)
					if err != nil {
						r.log.Debug("content cache unavailable", zap.String("member", m.Filename), zap.Error(err))
					} else {
						r.cur.tee.w = w
					}
				}
			case m.Encrypted:
				rec.content = contentLost
			}
		}
	}
	r.log.Debug("member registered",
		zap.String("member", m.Filename),
		zap.Stringer("type", m.Type),
		zap.Int64("bytes", m.Size))
	return m
}

func (r *Reader) key(rec *record) cache.Key {
	return cache.Key{Session: r.session, Member: rec.id}
}

// capture ends the live phase of the current member: live handles expire
// and whatever the caller left unread is drained into the content cache.
// Callers hold mu.
func (r *Reader) capture(c *cursor) error {
	rec := c.rec
	if c.br == nil || rec.content != contentLive {
		return nil
	}
	r.gen++
	m := r.members[rec.index]

	// Without a writer the backend skips the rest on its own. Members
	// declared empty are drained to learn whether they really are.
	if c.tee.w == nil && m.Size != 0 {
		rec.content = contentLost
		return nil
	}
	if _, err := c.br.WriteTo(io.Discard); err != nil {
		c.tee.discard()
		rec.content = contentLost
		return err
	}

	switch {
	case c.br.Total() == 0:
		c.tee.discard()
		rec.content = contentEmpty
	case c.tee.w == nil:
		rec.content = contentLost
		r.log.Debug("member not captured", zap.String("member", m.Filename), zap.Error(c.tee.err))
	default:
		w := c.tee.w
		c.tee.w = nil
		if err := w.Commit(); err != nil {
			rec.content = contentLost
			r.log.Debug("member not captured", zap.String("member", m.Filename), zap.Error(err))
			return nil
		}
		rec.content = contentCached
		r.keys = append(r.keys, r.key(rec))
		r.log.Debug("member captured", zap.String("member", m.Filename), zap.Int64("bytes", c.br.Total()))
	}
	return nil
}

// Open returns a reader over the content of m. Links open their resolved
// target. The member must come from this reader.
func (r *Reader) Open(m *Member) (io.ReadCloser, error) {
	if m == nil {
		return nil, pathErr("open", "", ErrMemberNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("open", m.Filename); err != nil {
		return nil, err
	}
	return r.open(m)
}

// openUncached opens m like Open, except that on single-pass readers the
// bytes read through the handle are not copied into the content cache.
func (r *Reader) openUncached(m *Member) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("open", m.Filename); err != nil {
		return nil, err
	}
	rc, err := r.open(m)
	if h, ok := rc.(*handle); ok && h.live {
		h.uncached = true
	}
	return rc, err
}

// OpenName opens the last member registered under name, enumerating the
// whole archive first.
func (r *Reader) OpenName(name string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("open", name); err != nil {
		return nil, err
	}
	if err := r.drain(); err != nil {
		return nil, pathErr("open", name, err)
	}
	m, ok := r.lookup(name)
	if !ok {
		return nil, pathErr("open", name, ErrMemberNotFound)
	}
	return r.open(m)
}

// open resolves links and dispatches on the backend kind. Callers hold mu.
func (r *Reader) open(m *Member) (io.ReadCloser, error) {
	name := m.Filename
	rec, ok := r.records[m]
	if !ok {
		return nil, pathErr("open", name, ErrMemberNotFound)
	}
	if m.IsLink() {
		switch {
		case m.LinkTarget == "" && m.Encrypted:
			return nil, pathErr("open", name, ErrEncrypted)
		case m.LinkTarget == "":
			return nil, pathErr("open", name, fmt.Errorf("%w: link target not recorded", ErrUnsupported))
		}
		target := r.resolve(m)
		if target == nil {
			return nil, pathErr("open", name, fmt.Errorf("%w: unresolved link to %q", ErrUnsupported, m.LinkTarget))
		}
		m, rec = target, r.records[target]
	}
	switch m.Type {
	case TypeFile:
	case TypeDir:
		return nil, pathErr("open", name, fmt.Errorf("%w: is a directory", ErrUnsupported))
	default:
		return nil, pathErr("open", name, fmt.Errorf("%w: not a regular file", ErrUnsupported))
	}

	if r.ra != nil {
		rc, err := r.ra.Open(rec.entry)
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		return r.guard(name, rc, false), nil
	}
	return r.openCaptured(name, m, rec)
}

// openCaptured opens a member of a single-pass backend. Callers hold mu.
func (r *Reader) openCaptured(name string, m *Member, rec *record) (io.ReadCloser, error) {
	if c := r.cur; c != nil && c.rec == rec && rec.content == contentLive {
		if !c.handed {
			c.handed = true
			return r.guard(name, io.NopCloser(c.br), true), nil
		}
		// The first handle may have consumed bytes already, so a second one
		// can only be served from the cache.
		if r.cache == nil {
			return nil, pathErr("open", name, fmt.Errorf("%w: member is already open", ErrUnsupported))
		}
		if err := r.capture(c); err != nil {
			r.breakCursor(err)
			return nil, pathErr("open", name, err)
		}
	}

	switch rec.content {
	case contentCached:
		rc, _, ok := r.cache.Get(r.key(rec))
		if !ok {
			return nil, pathErr("open", name, fmt.Errorf("%w: captured content was evicted", ErrUnsupported))
		}
		r.log.Debug("content cache hit", zap.String("member", m.Filename))
		return r.guard(name, rc, false), nil
	case contentEmpty:
		return r.guard(name, io.NopCloser(bytes.NewReader(nil)), false), nil
	default:
		if m.Encrypted {
			return nil, pathErr("open", name, ErrEncrypted)
		}
		r.log.Debug("content cache miss", zap.String("member", m.Filename))
		return nil, pathErr("open", name, fmt.Errorf("%w: the reader moved past this member", ErrUnsupported))
	}
}

// Close releases the backend, the source and the captured content. It is
// safe to call more than once and while a read is in flight.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.cur != nil && r.cur.tee != nil {
		r.cur.tee.discard()
	}
	r.cur = nil
	err = multierr.Append(err, r.be.Close())
	r.pool.Close()
	for _, key := range r.keys {
		err = multierr.Append(err, r.cache.Delete(key))
	}
	r.keys = nil
	if r.src != nil {
		err = multierr.Append(err, r.src.Close())
	}
	r.log.Debug("archive closed", zap.Int("members", len(r.members)))
	if err != nil {
		return pathErr("close", r.name, err)
	}
	return nil
}

// teeSource copies every block pulled from src into a cache writer. The
// writer is dropped on its first failure.
type teeSource struct {
	src stream.BlockSource
	w   cache.Writer
	err error
}

func (t *teeSource) Next() ([]byte, error) {
	b, err := t.src.Next()
	if len(b) > 0 && t.w != nil {
		if _, werr := t.w.Write(b); werr != nil {
			t.err = werr
			t.discard()
		}
	}
	return b, err
}

func (t *teeSource) discard() {
	if t.w != nil {
		_ = t.w.Discard() //nolint:errcheck // best-effort cleanup
		t.w = nil
	}
}

// handle guards member reads against Close and, for live handles, against
// the cursor moving on.
type handle struct {
	r      *Reader
	name   string
	rc     io.ReadCloser
	live   bool
	gen    uint64
	closed bool

	// uncached drops the cache writer of the live member on first read.
	uncached bool
}

// guard wraps rc. Callers hold mu.
func (r *Reader) guard(name string, rc io.ReadCloser, live bool) *handle {
	return &handle{r: r, name: name, rc: rc, live: live, gen: r.gen}
}

// Read implements io.Reader.
func (h *handle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, pathErr("read", h.name, fs.ErrClosed)
	}
	if h.r.closed.Load() {
		return 0, pathErr("read", h.name, ErrArchiveClosed)
	}
	if h.live {
		h.r.mu.Lock()
		defer h.r.mu.Unlock()
		if h.r.closed.Load() {
			return 0, pathErr("read", h.name, ErrArchiveClosed)
		}
		if h.r.gen != h.gen {
			return 0, pathErr("read", h.name, fmt.Errorf("%w: handle expired, open the member again", ErrUnsupported))
		}
		if h.uncached {
			h.uncached = false
			if c := h.r.cur; c != nil && c.tee != nil {
				c.tee.discard()
			}
		}
	}
	n, err := h.rc.Read(p)
	if h.r.closed.Load() {
		return 0, pathErr("read", h.name, ErrArchiveClosed)
	}
	if err != nil && err != io.EOF {
		err = pathErr("read", h.name, err)
	}
	return n, err
}

// Close implements io.Closer.
func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.live {
		return nil
	}
	return h.rc.Close()
}
