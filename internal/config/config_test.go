package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BILL_PREFIX", "")
	t.Setenv("CGST_RATE", "")
	t.Setenv("SGST_RATE", "")
	t.Setenv("SUMMARY_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.BillPrefix != "RK" {
		t.Fatalf("expected default bill prefix RK, got %q", cfg.BillPrefix)
	}
	if cfg.CGSTRate != "1.5" || cfg.SGSTRate != "1.5" {
		t.Fatalf("expected default GST rates 1.5/1.5, got %s/%s", cfg.CGSTRate, cfg.SGSTRate)
	}
	if cfg.SummaryTTLSeconds != 30 {
		t.Fatalf("expected default summary ttl 30, got %d", cfg.SummaryTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %q", cfg.Address())
	}
}

func TestLoadRejectsBadNumericValues(t *testing.T) {
	t.Setenv("SUMMARY_TTL_SECONDS", "not-a-number")
	t.Setenv("STOCK_AGING_MIN_DAYS", "-5")

	cfg := Load()
	if cfg.SummaryTTLSeconds != 30 {
		t.Fatalf("expected fallback ttl 30, got %d", cfg.SummaryTTLSeconds)
	}
	if cfg.AgingMinDays != 90 {
		t.Fatalf("expected fallback aging days 90, got %d", cfg.AgingMinDays)
	}
}
