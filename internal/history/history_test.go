package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/risk"
)

func entry(id string, score float64, scam bool) Entry {
	return Entry{
		SessionID:    id,
		Timestamp:    time.Now(),
		RiskScore:    score,
		RiskLevel:    risk.LevelFor(score),
		ScamDetected: scam,
	}
}

func TestStore_NewestFirst(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, DefaultCapacity, s.Capacity())

	s.Record(entry("a", 0.1, false))
	s.Record(entry("b", 0.2, false))
	s.Record(entry("c", 0.3, false))

	got := s.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].SessionID)
	assert.Equal(t, "b", got[1].SessionID)
	assert.Equal(t, "a", got[2].SessionID)
}

func TestStore_EvictsOldestAfterCapacity(t *testing.T) {
	s := NewStore(DefaultCapacity)
	for i := 1; i <= 11; i++ {
		s.Record(entry(fmt.Sprintf("s%d", i), 0, false))
	}

	got := s.Entries()
	require.Len(t, got, 10)
	assert.Equal(t, "s11", got[0].SessionID)
	assert.Equal(t, "s2", got[9].SessionID)
	for _, e := range got {
		assert.NotEqual(t, "s1", e.SessionID)
	}
}

func TestStore_EntriesIsSnapshot(t *testing.T) {
	s := NewStore(3)
	s.Record(entry("a", 0.1, false))

	snap := s.Entries()
	snap[0].SessionID = "mutated"
	s.Record(entry("b", 0.1, false))

	assert.Equal(t, "a", s.Entries()[1].SessionID)
	assert.Len(t, snap, 1)
}

func TestStore_Statistics(t *testing.T) {
	s := NewStore(10)

	empty := s.Statistics()
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0.0, empty.AverageRiskScore)
	assert.Len(t, empty.ByLevel, len(risk.Levels))

	s.Record(entry("a", 0.9, true))
	s.Record(entry("b", 0.8, true))
	s.Record(entry("c", 0.3, false))
	s.Record(entry("d", 0.0, false))

	st := s.Statistics()
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ScamCount)
	assert.Equal(t, 2, st.LegitimateCount)
	assert.Equal(t, 2, st.ByLevel[risk.LevelCritical])
	assert.Equal(t, 1, st.ByLevel[risk.LevelMedium])
	assert.Equal(t, 1, st.ByLevel[risk.LevelSafe])
	assert.Equal(t, 0, st.ByLevel[risk.LevelHigh])
	assert.InDelta(t, 0.5, st.AverageRiskScore, 1e-9)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Record(entry(fmt.Sprintf("s%d", i), 0.5, i%2 == 0))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Entries()
			_ = s.Statistics()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, s.Len())
}

func TestNewEntry(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &risk.Result{
		RiskScore:         0.8,
		RiskLevel:         risk.LevelCritical,
		ScamDetected:      true,
		SpeakerCount:      2,
		Suggestion:        "Hang up.",
		LogicScamDetected: true,
		LogicReason:       "BANK IMPERSONATION + MONEY DEMAND SCAM",
		AnalyzedAt:        at,
	}
	e := NewEntry("sess_1", 12*time.Second, res)
	assert.Equal(t, "sess_1", e.SessionID)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, 12.0, e.DurationSeconds)
	assert.Equal(t, risk.LevelCritical, e.RiskLevel)
	assert.True(t, e.LogicScamDetected)
	assert.Equal(t, 2, e.SpeakerCount)
}
