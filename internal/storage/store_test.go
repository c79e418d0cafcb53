package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelinfosec/vmturn/internal/s3"
	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// strictDecoder only accepts bytes starting with "OK".
var strictDecoder = snapshot.DecoderFunc(func(raw []byte) (snapshot.Snapshot, error) {
	if !bytes.HasPrefix(raw, []byte("OK")) {
		return snapshot.Snapshot{}, errors.New("bad header")
	}
	return snapshot.New(raw), nil
})

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts++
	return &awss3.PutObjectOutput{}, nil
}

type storeCase struct {
	name  string
	open  func(t *testing.T) Store
	plant func(t *testing.T, st Store, session string, raw []byte)
}

func storeCases() []storeCase {
	return []storeCase{
		{
			name: "file",
			open: func(t *testing.T) Store {
				st, err := NewFileStore(t.TempDir(), strictDecoder)
				require.NoError(t, err)
				return st
			},
			plant: func(t *testing.T, st Store, session string, raw []byte) {
				require.NoError(t, os.WriteFile(st.(*FileStore).Path(session), raw, 0644))
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				db, err := InitDB(filepath.Join(t.TempDir(), "db", "vmturn.db"))
				require.NoError(t, err)
				t.Cleanup(func() { db.Close() })
				return NewSQLiteStore(db, strictDecoder)
			},
			plant: func(t *testing.T, st Store, session string, raw []byte) {
				require.NoError(t, UpsertSession(context.Background(), st.(*SQLiteStore).db, session, raw))
			},
		},
		{
			name: "s3",
			open: func(t *testing.T) Store {
				client := &s3.S3Client{Client: newFakeObjects(), Bucket: "saves"}
				return NewS3Store(client, "games/", strictDecoder)
			},
			plant: func(t *testing.T, st Store, session string, raw []byte) {
				s3st := st.(*S3Store)
				require.NoError(t, s3st.client.PutObject(context.Background(), s3st.Key(session), raw))
			},
		},
	}
}

func TestStoreLoadMissingIsAbsent(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.open(t)
			snap, err := st.Load(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Nil(t, snap)
		})
	}
}

func TestStoreSaveThenLoad(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.open(t)
			ctx := context.Background()

			require.NoError(t, st.Save(ctx, "alice", snapshot.New([]byte("OK first"))))
			require.NoError(t, st.Save(ctx, "alice", snapshot.New([]byte("OK second"))))

			snap, err := st.Load(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.Equal(t, []byte("OK second"), snap.Bytes())

			other, err := st.Load(ctx, "bob")
			require.NoError(t, err)
			assert.Nil(t, other)
		})
	}
}

func TestStoreSaveIsIdempotent(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.open(t)
			ctx := context.Background()
			snap := snapshot.New([]byte("OK same"))

			require.NoError(t, st.Save(ctx, "alice", snap))
			once, err := st.Load(ctx, "alice")
			require.NoError(t, err)

			require.NoError(t, st.Save(ctx, "alice", snap))
			twice, err := st.Load(ctx, "alice")
			require.NoError(t, err)

			assert.True(t, once.Equal(*twice))
		})
	}
}

func TestStoreCorruptIsFatal(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.open(t)
			tc.plant(t, st, "alice", []byte("garbage"))

			snap, err := st.Load(context.Background(), "alice")
			assert.Nil(t, snap)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.open(t)
			for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
				_, err := st.Load(context.Background(), name)
				assert.ErrorIs(t, err, ErrInvalidName, name)
				err = st.Save(context.Background(), name, snapshot.New([]byte("OK")))
				assert.ErrorIs(t, err, ErrInvalidName, name)
			}
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, st.Save(context.Background(), "cave", snapshot.New([]byte{0, 1, 2})))

	raw, err := os.ReadFile(filepath.Join(dir, "cave.session"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, raw)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestS3StoreKey(t *testing.T) {
	fake := newFakeObjects()
	st := NewS3Store(&s3.S3Client{Client: fake, Bucket: "saves"}, "games/", nil)

	require.NoError(t, st.Save(context.Background(), "cave", snapshot.New([]byte("x"))))
	assert.Contains(t, fake.objects, "saves/games/cave.session")
	assert.Equal(t, 1, fake.puts)
}

func TestSQLiteLocks(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "vmturn.db"))
	require.NoError(t, err)
	defer db.Close()
	st := NewSQLiteStore(db, nil)
	ctx := context.Background()

	require.NoError(t, st.AcquireLock(ctx, "session:cave", "turn-1", time.Second))

	err = st.AcquireLock(ctx, "session:cave", "turn-2", 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)

	// only the holder can release
	require.NoError(t, st.ReleaseLock(ctx, "session:cave", "turn-2"))
	err = st.AcquireLock(ctx, "session:cave", "turn-2", 0)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, st.ReleaseLock(ctx, "session:cave", "turn-1"))
	require.NoError(t, st.AcquireLock(ctx, "session:cave", "turn-2", 0))
}
