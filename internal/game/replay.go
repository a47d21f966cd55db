package game

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrReplayNotFound is returned when no saved replay exists for a game
	ErrReplayNotFound = errors.New("replay not found")
	// ErrReplayCorrupt is returned when a saved state no longer matches the
	// checksum recorded with it
	ErrReplayCorrupt = errors.New("replay state does not match its checksum")
)

// Replay is the ordered list of snapshots taken during one game. Each state
// is stored with the checksum computed when it was recorded.
type Replay struct {
	GameID    string
	States    []*Snapshot
	Checksums []*SerializationChecksum
	mu        sync.RWMutex
}

// NewReplay creates an empty replay
func NewReplay(gameID string) *Replay {
	return &Replay{
		GameID:    gameID,
		States:    make([]*Snapshot, 0),
		Checksums: make([]*SerializationChecksum, 0),
	}
}

// RecordState appends a snapshot together with its checksum
func (r *Replay) RecordState(s *Snapshot) error {
	checksum, err := s.ComputeChecksum()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.States = append(r.States, s)
	r.Checksums = append(r.Checksums, checksum)
	return nil
}

// Size returns the number of recorded snapshots
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.States)
}

// replayFrame is one state as written to a replay file
type replayFrame struct {
	State    *Snapshot
	Checksum *SerializationChecksum
}

// SaveToFile writes the replay as a gzipped gob stream to <directory>/<gameID>.replay
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", r.GameID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	encoder := gob.NewEncoder(gzipWriter)

	metadata := replayMetadata{
		GameID:     r.GameID,
		Timestamp:  time.Now(),
		Version:    1,
		StateCount: len(r.States),
	}
	if err := encoder.Encode(&metadata); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i, state := range r.States {
		frame := replayFrame{State: state, Checksum: r.Checksums[i]}
		if err := encoder.Encode(&frame); err != nil {
			return fmt.Errorf("failed to encode state %d: %w", i, err)
		}
	}
	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile and verifies every
// state against its recorded checksum
func LoadReplayFromFile(directory, gameID string) (*Replay, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", gameID))

	file, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrReplayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)

	var metadata replayMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != 1 {
		return nil, fmt.Errorf("unsupported replay version: %d", metadata.Version)
	}

	replay := NewReplay(metadata.GameID)
	for i := 0; i < metadata.StateCount; i++ {
		var frame replayFrame
		if err := decoder.Decode(&frame); err != nil {
			return nil, fmt.Errorf("failed to decode state %d: %w", i, err)
		}
		if frame.State == nil || frame.Checksum == nil {
			return nil, fmt.Errorf("%w: state %d is incomplete", ErrReplayCorrupt, i)
		}
		ok, err := frame.State.VerifyChecksum(frame.Checksum)
		if err != nil {
			return nil, fmt.Errorf("failed to verify state %d: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: state %d", ErrReplayCorrupt, i)
		}
		replay.States = append(replay.States, frame.State)
		replay.Checksums = append(replay.Checksums, frame.Checksum)
	}
	return replay, nil
}

type replayMetadata struct {
	GameID     string
	Timestamp  time.Time
	Version    int
	StateCount int
}

// ReplayRecorder collects snapshots per game and writes them out when a game ends
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.Mutex
	replays map[string]*Replay
	saveDir string
}

// NewReplayRecorder creates a recorder saving into saveDir
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// Record appends a snapshot to the game's replay, starting one if needed
func (rr *ReplayRecorder) Record(s *Snapshot) {
	if rr == nil || s == nil {
		return
	}
	rr.mu.Lock()
	replay, ok := rr.replays[s.GameID]
	if !ok {
		replay = NewReplay(s.GameID)
		rr.replays[s.GameID] = replay
	}
	rr.mu.Unlock()

	if err := replay.RecordState(s); err != nil {
		rr.logger.Warn("failed to record replay state", zap.String("game_id", s.GameID), zap.Error(err))
	}
}

// Load reads the saved replay of a finished game
func (rr *ReplayRecorder) Load(gameID string) (*Replay, error) {
	if rr == nil {
		return nil, ErrReplayNotFound
	}
	return LoadReplayFromFile(rr.saveDir, gameID)
}

// Finish saves the game's replay and forgets it
func (rr *ReplayRecorder) Finish(gameID string) error {
	if rr == nil {
		return nil
	}
	rr.mu.Lock()
	replay, ok := rr.replays[gameID]
	delete(rr.replays, gameID)
	rr.mu.Unlock()

	if !ok {
		return nil
	}
	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("save replay %s: %w", gameID, err)
	}

	rr.logger.Info("replay saved",
		zap.String("game_id", gameID),
		zap.Int("states", replay.Size()),
		zap.String("directory", rr.saveDir),
	)
	return nil
}
