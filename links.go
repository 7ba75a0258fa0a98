package archivey

import (
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/davitf/archivey/internal/backend"
)

// ResolveLink returns the member a link finally points to, following
// chains. Non-link members resolve to themselves. Hardlinks resolve against
// earlier members only; symlinks against the last member registered under
// the target path so far.
func (r *Reader) ResolveLink(m *Member) (*Member, error) {
	if m == nil {
		return nil, pathErr("readlink", "", ErrMemberNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("readlink", m.Filename); err != nil {
		return nil, err
	}
	if _, ok := r.records[m]; !ok {
		return nil, pathErr("readlink", m.Filename, ErrMemberNotFound)
	}
	target := r.resolve(m)
	if target == nil {
		return nil, pathErr("readlink", m.Filename, ErrMemberNotFound)
	}
	return target, nil
}

// resolve follows m to a non-link member, or returns nil when a link in
// the chain has no target or the chain loops. Callers hold mu.
func (r *Reader) resolve(m *Member) *Member {
	seen := make(map[*Member]bool)
	cur := m
	for cur.IsLink() {
		if seen[cur] {
			r.log.Warn("link loop", zap.String("member", m.Filename))
			return nil
		}
		seen[cur] = true
		next := r.linkTarget(cur)
		if next == nil {
			r.log.Warn("unresolved link",
				zap.String("member", m.Filename),
				zap.String("target", cur.LinkTarget))
			return nil
		}
		cur = next
	}
	return cur
}

func (r *Reader) linkTarget(m *Member) *Member {
	switch m.Type {
	case TypeHardlink:
		if m.LinkTarget == "" {
			return nil
		}
		name := backend.CleanName(m.LinkTarget, TypeFile)
		for i := r.records[m].index - 1; i >= 0; i-- {
			if prev := r.members[i]; strings.TrimSuffix(prev.Filename, "/") == name {
				return prev
			}
		}
	case TypeSymlink:
		if m.LinkTarget == "" || strings.HasPrefix(m.LinkTarget, "/") {
			return nil
		}
		name := path.Clean(path.Join(path.Dir(m.Filename), m.LinkTarget))
		if target, ok := r.lookup(name); ok {
			return target
		}
	}
	return nil
}
