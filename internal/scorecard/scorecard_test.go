package scorecard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

func newTestScorecard(t *testing.T, providers ...string) *Scorecard {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s, err := New(DefaultConfig(), logger, providers...)
	require.NoError(t, err)
	return s
}

func TestScorecard_UntestedProviderIsNeutral(t *testing.T) {
	s := newTestScorecard(t, "a", "b")

	score, ok := s.Score("a")
	require.True(t, ok)
	assert.Equal(t, NeutralScore, score)

	for _, r := range s.GetRankedProviders() {
		assert.Equal(t, NeutralScore, r.Score)
	}
}

func TestScorecard_RankingExample(t *testing.T) {
	s := newTestScorecard(t, "A", "B", "C")

	for i := 0; i < 5; i++ {
		s.RecordRequest("A", types.RequestMetric{Latency: 100 * time.Millisecond, Success: false, Error: "boom"})
		s.RecordRequest("B", types.RequestMetric{Latency: 200 * time.Millisecond, Success: true})
		s.RecordRequest("C", types.RequestMetric{Latency: 800 * time.Millisecond, Success: true})
	}

	assert.Equal(t, []string{"B", "C", "A"}, s.RankedNames())
}

func TestScorecard_UnknownProviderIgnored(t *testing.T) {
	s := newTestScorecard(t, "known")

	s.RecordRequest("ghost", types.RequestMetric{Latency: time.Second, Success: true})
	s.RecordRequest("", types.RequestMetric{Latency: time.Second, Success: true})

	_, ok := s.Stats("ghost")
	assert.False(t, ok)
	assert.Equal(t, []string{"known"}, s.Providers())
	assert.Equal(t, uint64(0), s.Revision())
}

func TestScorecard_AveragesFromWindow(t *testing.T) {
	s := newTestScorecard(t, "p")

	s.RecordRequest("p", types.RequestMetric{Latency: 100 * time.Millisecond, Success: true, CostPerToken: 0.002})
	s.RecordRequest("p", types.RequestMetric{Latency: 300 * time.Millisecond, Success: true, CostPerToken: 0.004})
	s.RecordRequest("p", types.RequestMetric{Latency: 200 * time.Millisecond, Success: false, Error: "timeout"})

	stats, ok := s.Stats("p")
	require.True(t, ok)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 200*time.Millisecond, stats.AvgLatency)
	assert.InDelta(t, 0.003, stats.AvgCost, 1e-12)
	assert.InDelta(t, 1.0/3.0, stats.ErrorRate, 1e-12)
}

func TestScorecard_ScoreFormula(t *testing.T) {
	s := newTestScorecard(t, "p")
	require.NoError(t, s.SetWeights(Weights{Latency: 1, Cost: 1, Reliability: 2}))

	s.RecordRequest("p", types.RequestMetric{Latency: 2500 * time.Millisecond, Success: true, CostPerToken: 0.005})
	s.RecordRequest("p", types.RequestMetric{Latency: 2500 * time.Millisecond, Success: false})

	score, ok := s.Score("p")
	require.True(t, ok)
	// 0.25*0.5 + 0.25*0.5 + 0.5*0.5
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScorecard_CeilingsClamp(t *testing.T) {
	s := newTestScorecard(t, "slow")
	s.RecordRequest("slow", types.RequestMetric{Latency: time.Minute, Success: true, CostPerToken: 1})

	score, _ := s.Score("slow")
	w := s.Weights()
	assert.InDelta(t, w.Latency+w.Cost, score, 1e-9)
}

func TestScorecard_Reset(t *testing.T) {
	s := newTestScorecard(t, "p")
	s.RecordRequest("p", types.RequestMetric{Latency: time.Second, Success: false})

	assert.True(t, s.Reset("p"))
	assert.False(t, s.Reset("missing"))

	score, _ := s.Score("p")
	assert.Equal(t, NeutralScore, score)
}

func TestScorecard_SetWeightsValidation(t *testing.T) {
	s := newTestScorecard(t)

	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "valid", weights: Weights{Latency: 2, Cost: 1, Reliability: 1}},
		{name: "negative", weights: Weights{Latency: -1, Cost: 1, Reliability: 1}, wantErr: true},
		{name: "all zero", weights: Weights{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetWeights(tt.weights)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			w := s.Weights()
			assert.InDelta(t, 1.0, w.Latency+w.Cost+w.Reliability, 1e-12)
		})
	}
}

func TestScorecard_SnapshotRestore(t *testing.T) {
	s := newTestScorecard(t, "a", "b")
	for i := 0; i < 3; i++ {
		s.RecordRequest("a", types.RequestMetric{Latency: 150 * time.Millisecond, Success: true})
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	restored := newTestScorecard(t, "a", "b")
	require.NoError(t, restored.Restore(func(v interface{}) error { return json.Unmarshal(raw, v) }))

	stats, ok := restored.Stats("a")
	require.True(t, ok)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 150*time.Millisecond, stats.AvgLatency)

	assert.Error(t, restored.Restore(func(v interface{}) error { return errors.New("corrupt") }))
}

func TestScorecard_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("window never exceeds capacity and avg latency is the window mean", prop.ForAll(
		func(latencies []int, windowSize int) bool {
			logger := logrus.New()
			logger.SetLevel(logrus.ErrorLevel)
			s, err := New(Config{WindowSize: windowSize}, logger, "p")
			if err != nil {
				return false
			}

			for i, ms := range latencies {
				s.RecordRequest("p", types.RequestMetric{Latency: time.Duration(ms) * time.Millisecond, Success: i%3 != 0})

				stats, _ := s.Stats("p")
				if len(stats.Window) > windowSize {
					return false
				}
				var total time.Duration
				for _, m := range stats.Window {
					total += m.Latency
				}
				if stats.AvgLatency != total/time.Duration(len(stats.Window)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
		gen.IntRange(1, 60),
	))

	properties.Property("providers with zero requests always score 0.5", prop.ForAll(
		func(names []string) bool {
			logger := logrus.New()
			logger.SetLevel(logrus.ErrorLevel)
			s, err := New(DefaultConfig(), logger, names...)
			if err != nil {
				return false
			}
			for _, r := range s.GetRankedProviders() {
				if r.Score != NeutralScore {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func BenchmarkScorecard_GetRankedProviders(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	s, _ := New(DefaultConfig(), logger, names...)
	for i := 0; i < 50; i++ {
		for _, n := range names {
			s.RecordRequest(n, types.RequestMetric{Latency: time.Duration(i) * time.Millisecond, Success: i%4 != 0})
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.GetRankedProviders()
	}
}
