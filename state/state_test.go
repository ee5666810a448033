package state

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-fraud-triage/model"
)

func TestKey_DependsOnIDAndBody(t *testing.T) {
	a := model.Message{MessageID: "<1@x>", Body: "hello", Owner: "lay-k"}
	b := model.Message{MessageID: "<1@x>", Body: "hello", Owner: "skilling-j"}
	c := model.Message{MessageID: "<1@x>", Body: "hello!"}
	d := model.Message{MessageID: "<1@x>h", Body: "ello"}

	assert.Equal(t, Key(a), Key(b), "owner must not affect the key")
	assert.NotEqual(t, Key(a), Key(c))
	assert.NotEqual(t, Key(a), Key(d), "fields are separated")
}

func TestMemoryTracker(t *testing.T) {
	tr := NewMemoryTracker()

	assert.False(t, tr.AlreadyProcessed("k"))
	require.NoError(t, tr.MarkProcessed("k", "<1@x>"))
	assert.True(t, tr.AlreadyProcessed("k"))

	require.NoError(t, tr.MarkProcessed("", "<2@x>"))
	assert.False(t, tr.AlreadyProcessed(""))
	assert.Equal(t, 1, tr.Snapshot().Processed)
}

func TestCache_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.jsonl")

	w, err := NewCacheWriter(path, NewScope("all_documents", nil))
	require.NoError(t, err)
	require.NoError(t, w.Write(model.Message{MessageID: "<1@x>", Body: "one", HasBody: true, Owner: "lay-k"}))
	require.NoError(t, w.Write(model.Message{MessageID: "<2@x>", From: "a@enron.com"}))
	assert.Equal(t, 2, w.Written())
	require.NoError(t, w.Close())

	require.True(t, CacheExists(path))

	var got []model.Message
	require.NoError(t, ReadCache(path, func(m model.Message) error {
		got = append(got, m)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Body)
	assert.True(t, got[0].HasBody)
	assert.Equal(t, "lay-k", got[0].Owner)
	assert.False(t, got[1].HasBody)
	assert.Equal(t, "a@enron.com", got[1].From)
}

func TestCache_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.jsonl")

	assert.False(t, CacheExists(path))
	err := ReadCache(path, func(model.Message) error { return nil })
	assert.ErrorIs(t, err, ErrCacheMissing)
}

func TestCache_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"message_id\":\"<1@x>\"}\n{oops\n"), 0o600))

	err := ReadCache(path, func(model.Message) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCache_CallbackErrorStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewCacheWriter(path, Scope{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(model.Message{MessageID: fmt.Sprintf("<%d@x>", i)}))
	}
	require.NoError(t, w.Close())

	stop := fmt.Errorf("stop")
	calls := 0
	err = ReadCache(path, func(model.Message) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestNewScope_Normalizes(t *testing.T) {
	a := NewScope(" Sent ", []string{"Skilling-J", "lay-k", "", "LAY-K"})
	b := NewScope("sent", []string{"lay-k", "skilling-j"})

	assert.Equal(t, Scope{Folder: "sent", Owners: []string{"lay-k", "skilling-j"}}, a)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewScope("sent", nil)))
	assert.False(t, a.Equal(NewScope("deleted_items", []string{"lay-k", "skilling-j"})))
	assert.Equal(t, "folder=* owners=lay-k", NewScope("", []string{"lay-k"}).String())
}

func TestCacheMatches_ScopeLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	sent := NewScope("sent", []string{"skilling-j"})

	w, err := NewCacheWriter(path, sent)
	require.NoError(t, err)
	require.NoError(t, w.Write(model.Message{MessageID: "<1@x>"}))
	require.NoError(t, w.Close())

	got, err := ReadScope(path)
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	assert.True(t, CacheMatches(path, NewScope("SENT", []string{"Skilling-J"})))
	assert.False(t, CacheMatches(path, NewScope("deleted_items", []string{"skilling-j"})))
	assert.False(t, CacheMatches(path, NewScope("sent", nil)))
	assert.False(t, CacheMatches(filepath.Join(t.TempDir(), "none.jsonl"), sent))

	var ids []string
	require.NoError(t, ReadCache(path, func(m model.Message) error {
		ids = append(ids, m.MessageID)
		return nil
	}))
	assert.Equal(t, []string{"<1@x>"}, ids, "scope line is not a record")
}

func TestCacheMatches_UnscopedCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"message_id\":\"<1@x>\"}\n"), 0o600))

	_, err := ReadScope(path)
	assert.ErrorIs(t, err, ErrCacheUnscoped)
	assert.False(t, CacheMatches(path, Scope{}))

	empty := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = ReadScope(empty)
	assert.ErrorIs(t, err, ErrCacheUnscoped)
}

// BenchmarkCacheWriter_Write benchmarks cache write throughput
func BenchmarkCacheWriter_Write(b *testing.B) {
	w, err := NewCacheWriter(filepath.Join(b.TempDir(), "records.jsonl"), Scope{})
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	m := model.Message{MessageID: "<1@x>", From: "andrew.fastow@enron.com", Body: "ljm raptor", HasBody: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.Write(m); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryTracker_AlreadyProcessed benchmarks lookup performance
func BenchmarkMemoryTracker_AlreadyProcessed(b *testing.B) {
	tr := NewMemoryTracker()
	for i := 0; i < 10000; i++ {
		_ = tr.MarkProcessed(fmt.Sprintf("hash-%d", i), fmt.Sprintf("msg-%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.AlreadyProcessed(fmt.Sprintf("hash-%d", i%20000))
	}
}
