package blob

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	s := NewMemory()

	key, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, Key([]byte("hello")), key)

	again, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, key, again)

	data, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	r, err := s.Open(key)
	require.NoError(t, err)
	defer r.Close()
	streamed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, streamed)
}

func TestLayoutFansOutByPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/data")

	key, err := s.Put([]byte("content"))
	require.NoError(t, err)

	ok, err := afero.Exists(fs, "/data/"+key[:2]+"/"+key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = afero.Exists(fs, "/data/"+key[:2]+"/"+key+".tmp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMissing(t *testing.T) {
	s := NewMemory()

	_, err := s.Get(Key([]byte("never stored")))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Get("../../etc/passwd")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	s := NewMemory()

	key, err := s.PutReader(strings.NewReader("bye"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(key))
	require.NoError(t, s.Delete(key))

	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}
