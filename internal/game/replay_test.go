package game

import (
	"compress/gzip"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReplayRecordState(t *testing.T) {
	replay := NewReplay("game-123")
	assert.Equal(t, 0, replay.Size())

	snapshot := &Snapshot{GameID: "game-123", Turn: 1}
	require.NoError(t, replay.RecordState(snapshot))

	assert.Equal(t, 1, replay.Size())
	require.Len(t, replay.Checksums, 1)
	ok, err := snapshot.VerifyChecksum(replay.Checksums[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplaySaveLoad(t *testing.T) {
	tmpDir := t.TempDir()

	e := startedEngine(t, Options{})
	replay := NewReplay(e.GameID())
	require.NoError(t, replay.RecordState(e.Snapshot()))
	_, err := e.EndTurn(alice)
	require.NoError(t, err)
	require.NoError(t, replay.RecordState(e.Snapshot()))

	require.NoError(t, replay.SaveToFile(tmpDir))

	_, err = os.Stat(filepath.Join(tmpDir, e.GameID()+".replay"))
	require.NoError(t, err)

	loaded, err := LoadReplayFromFile(tmpDir, e.GameID())
	require.NoError(t, err)
	assert.Equal(t, e.GameID(), loaded.GameID)
	require.Equal(t, 2, loaded.Size())
	assert.Equal(t, 1, loaded.States[0].Turn)
	assert.Equal(t, 2, loaded.States[1].Turn)
	assert.Equal(t, bob, loaded.States[1].CurrentPlayer)
	assert.Equal(t, replay.Checksums, loaded.Checksums)
}

func TestLoadReplayMissingFile(t *testing.T) {
	_, err := LoadReplayFromFile(t.TempDir(), "nope")
	assert.ErrorIs(t, err, ErrReplayNotFound)
}

// writeTampered writes a replay whose second state was edited after its
// checksum was taken
func writeTampered(t *testing.T, dir string, e *Engine) {
	t.Helper()
	first := e.Snapshot()
	firstSum, err := first.ComputeChecksum()
	require.NoError(t, err)
	second := e.Snapshot()
	secondSum, err := second.ComputeChecksum()
	require.NoError(t, err)

	p := second.Players[bob]
	p.Health = 99
	second.Players[bob] = p

	file, err := os.Create(filepath.Join(dir, e.GameID()+".replay"))
	require.NoError(t, err)
	defer file.Close()
	zw := gzip.NewWriter(file)
	defer zw.Close()

	enc := gob.NewEncoder(zw)
	require.NoError(t, enc.Encode(&replayMetadata{GameID: e.GameID(), Timestamp: time.Now(), Version: 1, StateCount: 2}))
	require.NoError(t, enc.Encode(&replayFrame{State: first, Checksum: firstSum}))
	require.NoError(t, enc.Encode(&replayFrame{State: second, Checksum: secondSum}))
}

func TestLoadReplayDetectsTampering(t *testing.T) {
	tmpDir := t.TempDir()
	e := startedEngine(t, Options{})

	writeTampered(t, tmpDir, e)

	_, err := LoadReplayFromFile(tmpDir, e.GameID())
	assert.ErrorIs(t, err, ErrReplayCorrupt)
	assert.Contains(t, err.Error(), "state 1")
}

func TestReplayRecorder(t *testing.T) {
	tmpDir := t.TempDir()
	recorder := NewReplayRecorder(zaptest.NewLogger(t), tmpDir)

	e := startedEngine(t, Options{})
	recorder.Record(e.Snapshot())
	recorder.Record(e.Snapshot())
	recorder.Record(nil)

	_, err := recorder.Load(e.GameID())
	assert.ErrorIs(t, err, ErrReplayNotFound, "nothing is written before the game finishes")

	require.NoError(t, recorder.Finish(e.GameID()))

	loaded, err := recorder.Load(e.GameID())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Size())

	// the replay is forgotten once saved, so finishing again writes nothing
	require.NoError(t, os.Remove(filepath.Join(tmpDir, e.GameID()+".replay")))
	require.NoError(t, recorder.Finish(e.GameID()))
	_, err = recorder.Load(e.GameID())
	assert.ErrorIs(t, err, ErrReplayNotFound)

	var disabled *ReplayRecorder
	disabled.Record(e.Snapshot())
	assert.NoError(t, disabled.Finish(e.GameID()))
	_, err = disabled.Load(e.GameID())
	assert.ErrorIs(t, err, ErrReplayNotFound)
}
