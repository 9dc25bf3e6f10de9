package publish

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_History(t *testing.T) {
	require := require.New(t)

	m := NewMemory(2)
	_, ok := m.Get("DMM:I")
	require.False(ok)
	require.Nil(m.History("DMM:I"))
	require.Zero(m.Count("DMM:I"))

	for i := range 3 {
		require.NoError(m.Put("DMM:I", Readings([]string{fmt.Sprint(i)})))
	}
	require.NoError(m.Put("DMM:LTIME", Scalar(0.5)))

	v, ok := m.Get("DMM:I")
	require.True(ok)
	require.Equal([]string{"2"}, v.Strings())
	require.Equal(uint64(3), m.Count("DMM:I"))

	hist := m.History("DMM:I")
	require.Len(hist, 2)
	require.Equal([]string{"1"}, hist[0].Strings())
	require.Equal([]string{"2"}, hist[1].Strings())

	_, ok = m.Updated("DMM:LTIME")
	require.True(ok)
	require.Equal([]string{"DMM:I", "DMM:LTIME"}, m.Names())
	require.NoError(m.Close())
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory(0)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = m.Put(fmt.Sprintf("n%d", g), Scalar(float64(i)))
			}
		}()
	}
	wg.Wait()

	require.Len(t, m.Names(), 8)
	require.Equal(t, uint64(100), m.Count("n3"))
}
