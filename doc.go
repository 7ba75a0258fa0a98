// Package archivey reads archives of many formats through one interface.
//
// Zip, tar (plain, gzip, bzip2, xz, zstd and lz4 compressed), eStargz, rar,
// 7z, ISO 9660 and squashfs archives, as well as single-file compressed
// streams, are exposed as an ordered list of [Member] values whose content
// can be opened as an [io.ReadCloser]. Filenames are decoded to UTF-8,
// link targets are resolved, and backend errors are reported as one set of
// sentinel errors.
//
// # Quick Start
//
// List and read the members of an archive:
//
//	r, err := archivey.Open("release.tar.zst")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	for m, err := range r.IterMembers() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(m.Filename, m.Size)
//	}
//
// Extract everything below a directory:
//
//	stats, err := r.ExtractAll(ctx, "./out", archivey.ExtractWithPreserveMode(true))
//
// # Random access and single-pass readers
//
// Some formats can reopen any member at any time (zip, seekable tar, 7z,
// ISO, squashfs, eStargz). Others can only be read front to back: compressed
// tars, rar, and anything opened with [OpenStream]. For those, the Reader
// captures the content of each file member into a content cache while the
// cursor moves past it, so members can still be opened out of order.
// Use [WithContentCache] to bound or replace the cache, or pass nil to turn
// capture off, in which case only the current member can be opened.
// [Reader.Walk] streams every member without needing the cache.
//
// [Reader.FS] presents the archive as an [io/fs.FS], so it can be used
// with [io/fs.WalkDir], [io/fs.ReadFile] and other fs.FS consumers.
//
// # Errors
//
// Operations return [*fs.PathError] values wrapping one of the sentinel
// errors: [ErrFormatDetection], [ErrMemberNotFound], [ErrUnsupported]
// (refined by [ErrEncrypted]), [ErrArchiveClosed] and [ErrBackendDecode]
// (refined by [ErrChecksum] and [ErrTruncated]). Use [errors.Is] to test
// for them.
package archivey
