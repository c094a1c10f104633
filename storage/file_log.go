package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
)

// FileLog is the append-only text log of a node.
// Every append is flushed to disk before it returns.
type FileLog struct {
	mut    sync.Mutex
	path   string
	file   *os.File
	state  *State
	logger *zap.Logger
}

var _ paxos.NodeStore = &FileLog{}

// Open replays the log at path and opens it for appending, creating it when missing.
// A trailing partial line left by a crash in the middle of a write is discarded.
func Open(path string, logger *zap.Logger) (*FileLog, error) {
	logger = logger.With(zap.String("component", "file_log"), zap.String("path", path))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	validLen := bytes.LastIndexByte(data, '\n') + 1
	if validLen < len(data) {
		logger.Warn("Discarded partial record at the end of the log",
			zap.Int("bytes", len(data)-validLen),
		)
	}

	var lines []string
	if validLen > 0 {
		lines = strings.Split(string(data[:validLen-1]), "\n")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	if err := file.Truncate(int64(validLen)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to truncate log file: %w", err)
	}
	if _, err := file.Seek(int64(validLen), 0); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek log file: %w", err)
	}

	state := Replay(lines, logger)

	logger.Info("Log replayed",
		zap.Int("records", len(lines)),
		zap.Int("keys", len(state.storage)),
		zap.Int64("next_slot", int64(state.nextSlot)),
	)

	return &FileLog{
		path:   path,
		file:   file,
		state:  state,
		logger: logger,
	}, nil
}

func (l *FileLog) append(line string) error {
	r, err := parseRecord(line)
	if err != nil {
		return err
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush log file: %w", err)
	}

	l.state.apply(r)
	return nil
}

func (l *FileLog) SaveBallot(ballot paxos.Ballot) error {
	return l.append(BallotRecord(ballot))
}

func (l *FileLog) SavePromise(ballot paxos.Ballot) error {
	return l.append(PromiseRecord(ballot))
}

func (l *FileLog) SaveAccepted(p paxos.Proposal) error {
	return l.append(AcceptRecord(p))
}

func (l *FileLog) SaveCollected(slot paxos.SlotNum) error {
	return l.append(CollectRecord(slot))
}

func (l *FileLog) SaveApplied(slot paxos.SlotNum, cmd paxos.Command) error {
	return l.append(AppliedRecord(slot, cmd))
}

func (l *FileLog) LastBallot() (paxos.Ballot, bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.LastBallot()
}

func (l *FileLog) LastPromise() (paxos.Ballot, bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.LastPromise()
}

func (l *FileLog) AcceptedProposals() []paxos.Proposal {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.AcceptedProposals()
}

func (l *FileLog) Storage() map[string]string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.Storage()
}

func (l *FileLog) NextSlot() paxos.SlotNum {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.NextSlot()
}

func (l *FileLog) CollectedSlot() paxos.SlotNum {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state.CollectedSlot()
}

func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) Close() error {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.file.Close()
}
