package display

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLog_StampsAndOrders(t *testing.T) {
	l := NewActivityLog(4)
	at := time.Date(2025, 1, 2, 12, 30, 45, 0, time.Local)

	l.Add(at, "Scanning for peripherals")
	l.Add(at.Add(time.Second), "Connected")

	assert.Equal(t, []string{"12:30:45 Scanning for peripherals", "12:30:46 Connected"}, l.Lines())
	// reading does not consume
	assert.Len(t, l.Lines(), 2)
	assert.EqualValues(t, 2, l.Added())
}

func TestActivityLog_KeepsMostRecent(t *testing.T) {
	l := NewActivityLog(3)
	at := time.Date(2025, 1, 2, 12, 0, 0, 0, time.Local)

	for i := 0; i < 2; i++ {
		l.Add(at, fmt.Sprintf("line %d", i))
	}
	require.Len(t, l.Lines(), 2)

	for i := 2; i < 10; i++ {
		l.Add(at, fmt.Sprintf("line %d", i))
		_ = l.Lines()
	}

	assert.Equal(t, []string{"12:00:00 line 7", "12:00:00 line 8", "12:00:00 line 9"}, l.Lines())
}

func TestActivityLog_DefaultSize(t *testing.T) {
	l := NewActivityLog(0)
	for i := 0; i < DefaultActivitySize*2; i++ {
		l.Add(time.Now(), "x")
		_ = l.Lines()
	}
	assert.Len(t, l.Lines(), DefaultActivitySize)
}

func TestActivityLog_ConcurrentWriters(t *testing.T) {
	l := NewActivityLog(16)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Add(time.Now(), fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.LessOrEqual(t, len(l.Lines()), 16)
		}
	}()
	wg.Wait()

	assert.EqualValues(t, 400, l.Added())
	assert.LessOrEqual(t, len(l.Lines()), 16)
}
