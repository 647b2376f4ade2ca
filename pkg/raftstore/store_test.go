package raftstore_test

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/go-journal/pkg/journal"
	"github.com/downfa11-org/go-journal/pkg/metastore"
	"github.com/downfa11-org/go-journal/pkg/raftstore"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, compression string) (*raftstore.LogStore, *journal.SegmentedJournal) {
	t.Helper()
	j, err := journal.Open(journal.Options{
		Directory:      t.TempDir(),
		Name:           "raft",
		MaxSegmentSize: 1024,
		IndexDensity:   4,
		MetaStore:      metastore.NewMemoryStore(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	s, err := raftstore.New(j, compression)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, j
}

func makeLogs(from, to uint64) []*raft.Log {
	var logs []*raft.Log
	for i := from; i <= to; i++ {
		logs = append(logs, &raft.Log{
			Index: i,
			Term:  i/5 + 1,
			Type:  raft.LogCommand,
			Data:  []byte(fmt.Sprintf("command-%d", i)),
		})
	}
	return logs
}

func assertIndexes(t *testing.T, s raft.LogStore, first, last uint64) {
	t.Helper()
	got, err := s.FirstIndex()
	require.NoError(t, err)
	assert.Equal(t, first, got, "first index")
	got, err = s.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, got, "last index")
}

func TestLogStoreEmpty(t *testing.T) {
	s, _ := newStore(t, "none")
	assertIndexes(t, s, 0, 0)

	var log raft.Log
	assert.ErrorIs(t, s.GetLog(1, &log), raft.ErrLogNotFound)
}

func TestLogStoreRoundTrip(t *testing.T) {
	for _, compression := range []string{"none", "gzip", "snappy", "lz4"} {
		t.Run(compression, func(t *testing.T) {
			s, _ := newStore(t, compression)

			require.NoError(t, s.StoreLog(makeLogs(1, 1)[0]))
			require.NoError(t, s.StoreLogs(makeLogs(2, 30)))
			assertIndexes(t, s, 1, 30)

			for _, want := range makeLogs(1, 30) {
				var got raft.Log
				require.NoError(t, s.GetLog(want.Index, &got))
				assert.Equal(t, want.Index, got.Index)
				assert.Equal(t, want.Term, got.Term)
				assert.Equal(t, want.Type, got.Type)
				assert.Equal(t, want.Data, got.Data)
			}

			var log raft.Log
			assert.ErrorIs(t, s.GetLog(31, &log), raft.ErrLogNotFound)
		})
	}
}

func TestLogStoreOverwritesConflictingTail(t *testing.T) {
	s, _ := newStore(t, "none")
	require.NoError(t, s.StoreLogs(makeLogs(1, 10)))

	replacement := &raft.Log{Index: 6, Term: 9, Type: raft.LogCommand, Data: []byte("other")}
	require.NoError(t, s.StoreLog(replacement))
	assertIndexes(t, s, 1, 6)

	var got raft.Log
	require.NoError(t, s.GetLog(6, &got))
	assert.Equal(t, uint64(9), got.Term)
	assert.Equal(t, []byte("other"), got.Data)
}

func TestLogStoreResetsOnGap(t *testing.T) {
	s, j := newStore(t, "none")
	require.NoError(t, s.StoreLogs(makeLogs(1, 5)))

	// entries after a snapshot install do not follow the stored tail
	require.NoError(t, s.StoreLogs(makeLogs(100, 102)))
	assertIndexes(t, s, 100, 102)
	assert.Equal(t, int64(100), j.FirstIndex())

	var log raft.Log
	assert.ErrorIs(t, s.GetLog(5, &log), raft.ErrLogNotFound)
	require.NoError(t, s.GetLog(101, &log))
	assert.Equal(t, uint64(101), log.Index)
}

func TestLogStoreDeleteRange(t *testing.T) {
	s, j := newStore(t, "none")
	require.NoError(t, s.StoreLogs(makeLogs(1, 40)))
	require.Greater(t, len(segmentFiles(t, j)), 2)

	// suffix
	require.NoError(t, s.DeleteRange(35, 40))
	assertIndexes(t, s, 1, 34)

	// prefix, at segment granularity
	require.NoError(t, s.DeleteRange(1, 20))
	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.LessOrEqual(t, first, uint64(21))
	assert.Greater(t, first, uint64(1))

	var log raft.Log
	require.NoError(t, s.GetLog(21, &log))
	assert.Equal(t, uint64(21), log.Index)

	assert.Error(t, s.DeleteRange(25, 30))

	// everything
	require.NoError(t, s.DeleteRange(0, 34))
	assertIndexes(t, s, 0, 0)
	require.NoError(t, s.StoreLog(makeLogs(35, 35)[0]))
	assertIndexes(t, s, 35, 35)
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	j, err := journal.Open(journal.Options{Directory: t.TempDir(), MetaStore: metastore.NewMemoryStore()})
	require.NoError(t, err)
	defer j.Close()

	_, err = raftstore.New(j, "zstd")
	assert.Error(t, err)
}

type recordingFSM struct {
	mu       sync.Mutex
	commands []string
}

func (f *recordingFSM) Apply(log *raft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, string(log.Data))
	return len(f.commands)
}

func (f *recordingFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &noopSnapshot{}, nil
}

func (f *recordingFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

func (f *recordingFSM) applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

func TestSingleNodeRaft(t *testing.T) {
	store, j := newStore(t, "lz4")
	stable := metastore.NewMemoryStore()

	conf := raft.DefaultConfig()
	conf.LocalID = "node-1"
	conf.Logger = hclog.NewNullLogger()
	conf.HeartbeatTimeout = 100 * time.Millisecond
	conf.ElectionTimeout = 100 * time.Millisecond
	conf.LeaderLeaseTimeout = 50 * time.Millisecond
	conf.CommitTimeout = 5 * time.Millisecond

	addr, transport := raft.NewInmemTransport("")
	fsm := &recordingFSM{}
	r, err := raft.NewRaft(conf, fsm, store, stable, raft.NewInmemSnapshotStore(), transport)
	require.NoError(t, err)
	defer r.Shutdown()

	require.NoError(t, r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: conf.LocalID, Address: addr, Suffrage: raft.Voter}},
	}).Error())
	require.Eventually(t, func() bool { return r.State() == raft.Leader }, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Apply([]byte(fmt.Sprintf("set-%d", i)), time.Second).Error())
	}
	require.NoError(t, r.Barrier(time.Second).Error())

	applied := fsm.applied()
	require.Len(t, applied, 10)
	assert.Equal(t, "set-0", applied[0])
	assert.Equal(t, "set-9", applied[9])

	last, err := store.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, r.LastIndex(), last)
	assert.Equal(t, int64(last), j.LastFlushedIndex())

	term, err := stable.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	assert.NotZero(t, term)

	require.NoError(t, r.Shutdown().Error())
}

func segmentFiles(t *testing.T, j *journal.SegmentedJournal) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(j.Directory(), j.Name()+"-*.log"))
	require.NoError(t, err)
	return matches
}
