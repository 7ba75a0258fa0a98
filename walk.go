package archivey

import "io"

// WalkFunc is called for each member in archive order. r streams the
// content of file members and is nil for every other type. It is only
// valid until WalkFunc returns.
type WalkFunc func(m *Member, r io.Reader) error

// Walk calls fn for each member, streaming file content as the cursor
// passes it. It works for every backend, including single-pass sources
// opened with a nil content cache as long as the cursor has not passed
// any file member yet. Walk stops at the first error from fn or from the
// archive.
//
// Content fn reads is not kept in the content cache, so on single-pass
// readers those members cannot be opened again afterwards. Members fn
// leaves unread are captured as the cursor moves on.
func (r *Reader) Walk(fn WalkFunc) error {
	for m, err := range r.IterMembers() {
		if err != nil {
			return err
		}
		if !m.IsFile() {
			if err := fn(m, nil); err != nil {
				return err
			}
			continue
		}
		rc, err := r.openUncached(m)
		if err != nil {
			return err
		}
		err = fn(m, rc)
		cerr := rc.Close()
		if err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}
	}
	return nil
}
