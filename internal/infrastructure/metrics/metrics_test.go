package metrics

import (
	"testing"
	"time"
)

func TestRecordAttempt_SnapshotCounts(t *testing.T) {
	c := NewCollector(Config{})
	c.RecordAttempt("ollama", true, 120*time.Millisecond)
	c.RecordAttempt("ollama", false, 50*time.Millisecond)
	c.RecordAttempt("openai", true, 800*time.Millisecond)

	snap := c.Snapshot()
	ollama := snap.Providers["ollama"]
	if ollama.Attempts != 2 || ollama.Successes != 1 || ollama.Failures != 1 {
		t.Fatalf("bad ollama stats: %+v", ollama)
	}
	if snap.TotalRequests != 3 || snap.TotalSuccesses != 2 {
		t.Fatalf("bad totals: %+v", snap)
	}
}

func TestRecordFallback_ByReason(t *testing.T) {
	c := NewCollector(Config{})
	c.RecordFallback("circuit_breaker", true)
	c.RecordFallback("circuit_breaker", false)
	c.RecordFallback("timeout", true)

	snap := c.Snapshot()
	if snap.Fallback.Attempts != 3 || snap.Fallback.Successes != 2 || snap.Fallback.Failures != 1 {
		t.Fatalf("bad fallback stats: %+v", snap.Fallback)
	}
	if snap.Fallback.ByReason["circuit_breaker"] != 2 {
		t.Fatalf("bad reason counts: %+v", snap.Fallback.ByReason)
	}
}

func TestRecordTokens_SavingsOnlyForLocal(t *testing.T) {
	c := NewCollector(Config{CloudRatePerMTok: 10})

	c.RecordTokens("openai", 1_000_000, 0, false)
	if saved := c.Snapshot().EstimatedSaved; saved != 0 {
		t.Fatalf("cloud traffic accrued savings: %f", saved)
	}

	c.RecordTokens("ollama", 500_000, 500_000, true)
	snap := c.Snapshot()
	if snap.EstimatedSaved != 10 {
		t.Fatalf("expected $10 saved, got %f", snap.EstimatedSaved)
	}
	if snap.TokensIn != 1_500_000 || snap.TokensOut != 500_000 {
		t.Fatalf("bad token totals: %+v", snap)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := NewCollector(Config{})
	c.RecordAttempt("ollama", true, time.Millisecond)

	snap := c.Snapshot()
	snap.Providers["ollama"] = ProviderStats{Attempts: 999}
	if c.Snapshot().Providers["ollama"].Attempts != 1 {
		t.Fatal("snapshot mutation leaked into the collector")
	}
}

func TestHandler_NotNil(t *testing.T) {
	if NewCollector(Config{}).Handler() == nil {
		t.Fatal("nil exposition handler")
	}
}
