package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"AUTOSAVE_INTERVAL", "VIOLATION_THRESHOLD", "SIGNAL_RATE_PER_MIN", "EXAM_CACHE_TTL", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.AutosaveInterval != 30*time.Second {
		t.Errorf("AutosaveInterval = %v", cfg.AutosaveInterval)
	}
	if cfg.ViolationThreshold != 5 || cfg.SignalRatePerMinute != 600 {
		t.Errorf("threshold %d rate %d", cfg.ViolationThreshold, cfg.SignalRatePerMinute)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want allow-all", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL", "10s")
	t.Setenv("VIOLATION_THRESHOLD", "0")
	t.Setenv("EXAM_CACHE_TTL", "-5s")
	t.Setenv("SIGNAL_RATE_PER_MIN", "lots")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.AutosaveInterval != 10*time.Second {
		t.Errorf("AutosaveInterval = %v", cfg.AutosaveInterval)
	}
	if cfg.ViolationThreshold != 0 {
		t.Errorf("ViolationThreshold = %d, want 0 to disable", cfg.ViolationThreshold)
	}
	if cfg.ExamCacheTTL != 30*time.Second {
		t.Errorf("negative TTL not rejected: %v", cfg.ExamCacheTTL)
	}
	if cfg.SignalRatePerMinute != 600 {
		t.Errorf("unparseable rate not rejected: %d", cfg.SignalRatePerMinute)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestCacheKeys(t *testing.T) {
	id := uuid.MustParse("3f0d1c8e-6a43-4c51-9d0c-2b7a7f1e9a10")

	if got := CacheKey.EnrollmentKey(id, "stu-a"); got != "exam:3f0d1c8e-6a43-4c51-9d0c-2b7a7f1e9a10:enrolled:stu-a" {
		t.Errorf("EnrollmentKey = %q", got)
	}
	if CacheKey.ProctorChannel(id, model.RoleStudent) == CacheKey.ProctorChannel(id, model.RoleInvigilator) {
		t.Error("roles share a channel")
	}
}
