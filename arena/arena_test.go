package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"
)

func TestWords(t *testing.T) {
	a := New(0)

	w1, err := a.Words(10)
	require.NoError(t, err)
	require.Len(t, w1, 10)

	w1[3] = 42

	w2, err := a.Words(5000)
	require.NoError(t, err)
	require.Len(t, w2, 5000)

	for _, w := range w2 {
		require.Zero(t, w)
	}

	require.Equal(t, (10+5000)*8, a.Used())
}

func TestLimit(t *testing.T) {
	a := New(64)

	_, err := a.Words(4)
	require.NoError(t, err)

	_, err = a.Words(5)
	require.True(t, errors.Is(err, ErrNoMemory))

	a.Reset()

	_, err = a.Words(8)
	require.NoError(t, err)
}

func TestSlab(t *testing.T) {
	type item struct {
		x, y int
	}

	a := New(0)
	s := NewSlab[item](a)

	first, err := s.New()
	require.NoError(t, err)

	first.x = 1

	for i := 0; i < 200; i++ {
		p, err := s.New()
		require.NoError(t, err)
		require.Zero(t, p.x)
		require.Zero(t, p.y)

		p.x = i
	}

	require.Equal(t, 1, first.x)
	require.NotZero(t, a.Used())

	a.Reset()
	require.Zero(t, a.Used())

	p, err := s.New()
	require.NoError(t, err)
	require.Zero(t, p.x)
}
