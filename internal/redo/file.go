package redo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"go.uber.org/zap"
)

// segmentHandle is one numbered segment file. Only the last segment is
// ever appended to; every segment (including the active one) may be
// read concurrently, each under its own mutex so one slow reader never
// blocks another segment's reader.
type segmentHandle struct {
	index  int
	path   string
	header SegmentHeader
	size   int64

	mu   sync.Mutex
	read *os.File
}

// FileLog is the on-disk Log implementation: per-segment read handles
// and a bounded read cache in front of them. Appends are not buffered:
// each Write goes straight to the active segment file and is synced
// before it returns. The read cache is built without a TTL.
type FileLog struct {
	basePath   string
	backupPath string
	logger     *zap.Logger

	mu       sync.RWMutex
	segments []*segmentHandle
	active   *segmentHandle
	appendF  *os.File
	offset   int64

	hashIndex map[eventmodel.Hash]LogLookup
	cache     *readCache
	closed    bool
}

var segmentNameRE = regexp.MustCompile(`\.([0-9]+)$`)

func segmentPath(base string, index int) string {
	return fmt.Sprintf("%s.%d", base, index)
}

func discoverSegments(base string) ([]int, error) {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return nil, err
	}
	var indexes []int
	for _, m := range matches {
		sub := segmentNameRE.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	return indexes, nil
}

// Open opens or creates the segmented log rooted at basePath, replaying
// every segment through loader to rebuild the caller's in-memory state.
func Open(ctx context.Context, basePath string, flags Flags, backupPath string, loader Loader, logger *zap.Logger) (*FileLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if flags.RestoreDir != "" {
		if err := restoreLargerSegments(flags.RestoreDir, basePath, logger); err != nil {
			return nil, wrapErr("open", -1, 0, err)
		}
	}

	l := &FileLog{
		basePath:   basePath,
		backupPath: backupPath,
		logger:     logger,
		hashIndex:  make(map[eventmodel.Hash]LogLookup),
		cache:      newReadCache(1024, 0),
	}

	indexes, err := discoverSegments(basePath)
	if err != nil {
		return nil, wrapErr("open", -1, 0, err)
	}

	if len(indexes) == 0 {
		if !flags.Create {
			return nil, wrapErr("open", -1, 0, os.ErrNotExist)
		}
		if err := l.createSegment(0, SegmentHeader{Version: headerVersion}); err != nil {
			return nil, err
		}
		return l, nil
	}

	for i, idx := range indexes {
		isLast := i == len(indexes)-1
		if err := l.openAndReplaySegment(idx, isLast, !flags.ReadOnly, loader); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func restoreLargerSegments(restoreDir, basePath string, logger *zap.Logger) error {
	restoreIdx, err := discoverSegments(filepath.Join(restoreDir, filepath.Base(basePath)))
	if err != nil || len(restoreIdx) == 0 {
		return nil
	}
	restoreBase := filepath.Join(restoreDir, filepath.Base(basePath))
	for _, idx := range restoreIdx {
		src := segmentPath(restoreBase, idx)
		dst := segmentPath(basePath, idx)
		srcInfo, err := os.Stat(src)
		if err != nil {
			continue
		}
		dstInfo, err := os.Stat(dst)
		if err == nil && dstInfo.Size() >= srcInfo.Size() {
			continue
		}
		logger.Info("redo: restoring segment from restore directory", zap.String("src", src), zap.String("dst", dst))
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (l *FileLog) createSegment(index int, header SegmentHeader) error {
	path := segmentPath(l.basePath, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return wrapErr("create_segment", index, 0, err)
	}
	if err := writeSegmentHeader(f, header); err != nil {
		f.Close()
		return wrapErr("create_segment", index, 0, err)
	}
	readHandle, err := os.Open(path)
	if err != nil {
		f.Close()
		return wrapErr("create_segment", index, 0, err)
	}
	seg := &segmentHandle{index: index, path: path, header: header, size: segmentHeaderSize, read: readHandle}

	l.mu.Lock()
	l.segments = append(l.segments, seg)
	l.active = seg
	l.appendF = f
	l.offset = segmentHeaderSize
	l.mu.Unlock()
	return nil
}

// openAndReplaySegment opens segment idx, replays its records through
// loader, and (if keepOpenForAppend) leaves it as the active appender.
func (l *FileLog) openAndReplaySegment(idx int, keepOpenForAppend bool, allowAppend bool, loader Loader) error {
	path := segmentPath(l.basePath, idx)
	raw, err := os.ReadFile(path)
	if err != nil {
		return wrapErr("open_segment", idx, 0, err)
	}
	r := bytes.NewReader(raw)
	header, err := readSegmentHeader(r)
	if err != nil {
		// A bad or unreadable segment header fails the whole Open, not
		// just this segment: later segments are not loaded either.
		l.logger.Warn("redo: aborting load of segment with bad magic", zap.Int("segment", idx), zap.Error(err))
		return wrapErr("open_segment", idx, 0, err)
	}

	offset := int64(segmentHeaderSize)
	var goodBytes int64 = segmentHeaderSize
	recordIndex := 0
	for r.Len() > 0 {
		entry, consumed, derr := decodeRecord(r)
		if derr != nil {
			l.logger.Warn("redo: truncating corrupt trailing record on open",
				zap.Int("segment", idx), zap.Int("record", recordIndex), zap.Error(derr))
			break
		}
		lookup := LogLookup{SegmentIndex: idx, Offset: offset, Length: consumed}
		hash := entry.Header.EventHash()

		l.mu.Lock()
		l.hashIndex[hash] = lookup
		l.mu.Unlock()

		if loader != nil {
			if err := loader.LoadRecovered(entry.Header, entry.Meta, entry.Data, lookup); err != nil {
				l.logger.Warn("redo: loader rejected recovered record, skipping",
					zap.Int("segment", idx), zap.Int("record", recordIndex), zap.Error(err))
			}
		}

		offset += int64(consumed)
		goodBytes = offset
		recordIndex++
	}

	if goodBytes < int64(len(raw)) {
		if err := os.Truncate(path, goodBytes); err != nil {
			return wrapErr("truncate_corrupt_tail", idx, goodBytes, err)
		}
	}

	readHandle, err := os.Open(path)
	if err != nil {
		return wrapErr("open_segment", idx, 0, err)
	}
	seg := &segmentHandle{index: idx, path: path, header: header, size: goodBytes, read: readHandle}

	l.mu.Lock()
	l.segments = append(l.segments, seg)
	l.mu.Unlock()

	if keepOpenForAppend && allowAppend {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return wrapErr("open_segment_for_append", idx, 0, err)
		}
		l.mu.Lock()
		l.active = seg
		l.appendF = f
		l.offset = goodBytes
		l.mu.Unlock()
	}
	return nil
}

func (l *FileLog) Write(ctx context.Context, entry LogEntry) (LogLookup, error) {
	recordBytes, err := encodeRecord(entry)
	if err != nil {
		return LogLookup{}, wrapErr("write", -1, 0, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return LogLookup{}, ErrClosed
	}
	if l.appendF == nil {
		return LogLookup{}, wrapErr("write", -1, 0, fmt.Errorf("log is read-only"))
	}

	n, err := l.appendF.Write(recordBytes)
	if err != nil {
		return LogLookup{}, wrapErr("write", l.active.index, l.offset, err)
	}
	if err := l.appendF.Sync(); err != nil {
		return LogLookup{}, wrapErr("write_sync", l.active.index, l.offset, err)
	}

	lookup := LogLookup{SegmentIndex: l.active.index, Offset: l.offset, Length: n}
	hash := entry.Header.EventHash()
	l.hashIndex[hash] = lookup
	l.cache.put(hash, entry)
	l.offset += int64(n)
	l.active.size = l.offset
	return lookup, nil
}

func (l *FileLog) Load(ctx context.Context, hash eventmodel.Hash) (eventmodel.EventHeaderRaw, eventmodel.Metadata, []byte, error) {
	if entry, ok := l.cache.get(hash); ok {
		return entry.Header, entry.Meta, entry.Data, nil
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return eventmodel.EventHeaderRaw{}, nil, nil, ErrClosed
	}
	lookup, ok := l.hashIndex[hash]
	var seg *segmentHandle
	if ok {
		for _, s := range l.segments {
			if s.index == lookup.SegmentIndex {
				seg = s
				break
			}
		}
	}
	l.mu.RUnlock()
	if !ok || seg == nil {
		return eventmodel.EventHeaderRaw{}, nil, nil, ErrHashNotFound
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()
	buf := make([]byte, lookup.Length)
	if _, err := seg.read.ReadAt(buf, lookup.Offset); err != nil {
		return eventmodel.EventHeaderRaw{}, nil, nil, wrapErr("load", seg.index, lookup.Offset, err)
	}
	entry, _, err := decodeRecord(bytes.NewReader(buf))
	if err != nil {
		return eventmodel.EventHeaderRaw{}, nil, nil, wrapErr("load_decode", seg.index, lookup.Offset, err)
	}
	l.cache.put(hash, entry)
	return entry.Header, entry.Meta, entry.Data, nil
}

func (l *FileLog) Prime(ctx context.Context, records []PrimeRecord) error {
	// Primed bytes are cache-only: the spec describes priming as filling
	// in payload bytes for header-first remote events. We keep the
	// cache authoritative for these until the next natural rewrite
	// (compaction) commits them to disk with their real data length.
	for _, rec := range records {
		header, meta, _, err := l.Load(ctx, rec.Hash)
		if err != nil {
			continue
		}
		header.DataLen = uint32(len(rec.Data))
		header.DataHash = eventmodel.Sum(rec.Data)
		l.cache.put(rec.Hash, LogEntry{Header: header, Meta: meta, Data: rec.Data})
	}
	return nil
}

func (l *FileLog) Rotate(ctx context.Context, header SegmentHeader) error {
	l.mu.Lock()
	if l.appendF != nil {
		l.appendF.Close()
		l.appendF = nil
	}
	newIndex := 0
	if l.active != nil {
		newIndex = l.active.index + 1
	}
	l.mu.Unlock()
	return l.createSegment(newIndex, header)
}

func (l *FileLog) BeginFlip(ctx context.Context) (*FlippedLog, error) {
	flipBase := l.basePath + ".flip"
	side, err := Open(ctx, flipBase, Flags{Create: true}, "", nil, l.logger)
	if err != nil {
		return nil, wrapErr("begin_flip", -1, 0, err)
	}
	return &FlippedLog{file: side}, nil
}

func (l *FileLog) FinishFlip(ctx context.Context, flip *FlippedLog, deferred DeferredReplay) error {
	if flip.file == nil {
		return wrapErr("finish_flip", -1, 0, errFlipKindMismatch)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if deferred != nil {
		var pending []LogEntry
		flip.file.mu.RLock()
		flipped := flip.file.hashIndex
		flip.file.mu.RUnlock()
		for hash, lookup := range l.hashIndex {
			if _, already := flipped[hash]; already {
				continue
			}
			var seg *segmentHandle
			for _, s := range l.segments {
				if s.index == lookup.SegmentIndex {
					seg = s
					break
				}
			}
			if seg == nil {
				continue
			}
			seg.mu.Lock()
			buf := make([]byte, lookup.Length)
			_, rerr := seg.read.ReadAt(buf, lookup.Offset)
			seg.mu.Unlock()
			if rerr != nil {
				continue
			}
			entry, _, derr := decodeRecord(bytes.NewReader(buf))
			if derr != nil {
				continue
			}
			pending = append(pending, entry)
		}
		if len(pending) > 0 {
			if err := deferred(pending); err != nil {
				return err
			}
		}
	}

	if l.appendF != nil {
		l.appendF.Close()
	}
	for _, seg := range l.segments {
		seg.read.Close()
		os.Remove(seg.path)
	}

	flip.file.mu.RLock()
	newSegments := flip.file.segments
	newIndex := flip.file.hashIndex
	newActive := flip.file.active
	newAppendF := flip.file.appendF
	newOffset := flip.file.offset
	flip.file.mu.RUnlock()

	for _, seg := range newSegments {
		finalPath := segmentPath(l.basePath, seg.index)
		if seg.path != finalPath {
			if err := os.Rename(seg.path, finalPath); err != nil {
				return wrapErr("finish_flip_rename", seg.index, 0, err)
			}
			seg.path = finalPath
		}
	}

	l.segments = newSegments
	l.hashIndex = newIndex
	l.active = newActive
	l.appendF = newAppendF
	l.offset = newOffset
	l.cache.clear()
	return nil
}

func (l *FileLog) Backup(ctx context.Context, includeActive bool) error {
	if l.backupPath == "" {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, seg := range l.segments {
		if !includeActive && l.active != nil && seg.index == l.active.index {
			continue
		}
		staged := segmentPath(l.backupPath, seg.index) + ".staged"
		final := segmentPath(l.backupPath, seg.index)
		if err := copyFile(seg.path, staged); err != nil {
			return wrapErr("backup", seg.index, 0, err)
		}
		if err := os.Rename(staged, final); err != nil {
			return wrapErr("backup_rename", seg.index, 0, err)
		}
	}
	return nil
}

func (l *FileLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.hashIndex)
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.appendF != nil {
		l.appendF.Close()
	}
	for _, seg := range l.segments {
		seg.read.Close()
	}
	l.cache.close()
	return nil
}
