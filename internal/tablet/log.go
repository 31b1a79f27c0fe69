package tablet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// DefaultSegmentSize is the log segment size used when none is given.
const DefaultSegmentSize = 8 << 20

// Log tracks the head of a master's log: the segment being written and the
// offset within it. Only positions are kept; the objects themselves live in
// the Store.
//
// When an append does not fit in the head segment, a new segment is opened.
// Before anything is written to it the roll callback runs; if it fails the
// append fails and the head does not move. Masters use the callback to
// publish fresh recovery info to the coordinator, so a recovery always knows
// the newest segment that may hold data.
type Log struct {
	mu          sync.Mutex
	segmentId   uint64
	offset      uint32
	segmentSize uint32
	onRoll      func(segmentId uint64) error
}

// NewLog starts a log at segment 1, offset 0. segmentSize 0 means
// DefaultSegmentSize.
func NewLog(segmentSize uint32, onRoll func(segmentId uint64) error) *Log {
	if segmentSize == 0 {
		segmentSize = DefaultSegmentSize
	}
	return &Log{segmentId: 1, segmentSize: segmentSize, onRoll: onRoll}
}

// SetRollHook replaces the roll callback.
func (l *Log) SetRollHook(onRoll func(segmentId uint64) error) {
	l.mu.Lock()
	l.onRoll = onRoll
	l.mu.Unlock()
}

// Head is the position the next append will start at.
func (l *Log) Head() cluster.Ctime {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cluster.Ctime{SegmentId: l.segmentId, SegmentOffset: l.offset}
}

// Append reserves n bytes and returns where they start.
func (l *Log) Append(n int) (cluster.Ctime, error) {
	if n < 0 || uint64(n) > uint64(l.segmentSize) {
		return cluster.Ctime{}, fmt.Errorf("log entry of %d bytes does not fit a %d byte segment", n, l.segmentSize)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if uint64(l.offset)+uint64(n) > uint64(l.segmentSize) {
		if err := l.rollLocked(); err != nil {
			return cluster.Ctime{}, err
		}
	}
	at := cluster.Ctime{SegmentId: l.segmentId, SegmentOffset: l.offset}
	l.offset += uint32(n)
	return at, nil
}

// Roll opens a new head segment even if the current one has room.
func (l *Log) Roll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollLocked()
}

func (l *Log) rollLocked() error {
	next := l.segmentId + 1
	if l.onRoll != nil {
		if err := l.onRoll(next); err != nil {
			return fmt.Errorf("opening segment %d: %w", next, err)
		}
	}
	l.segmentId = next
	l.offset = 0
	return nil
}

// ErrBadRecoveryInfo is returned by DecodeRecoveryInfo for malformed input.
var ErrBadRecoveryInfo = errors.New("malformed recovery info")

// EncodeRecoveryInfo is the recovery info a master publishes when it opens
// segment segmentId: the id of its newest segment.
func EncodeRecoveryInfo(segmentId uint64) cluster.RecoveryInfo {
	return binary.LittleEndian.AppendUint64(nil, segmentId)
}

// DecodeRecoveryInfo reverses EncodeRecoveryInfo.
func DecodeRecoveryInfo(info cluster.RecoveryInfo) (uint64, error) {
	if info.Len() != 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrBadRecoveryInfo, info.Len())
	}
	return binary.LittleEndian.Uint64(info), nil
}
