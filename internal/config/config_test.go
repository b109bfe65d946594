package config

import (
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TASKMESH_BATCH_SIZE", "8")
	t.Setenv("TASKMESH_ALGORITHM", "round_robin")
	t.Setenv("TASKMESH_DECAY_RATE", "0.1")
	t.Setenv("TASKMESH_BASE_DELAY", "250ms")

	s := FromEnv()
	if s.BatchSize != 8 {
		t.Errorf("BatchSize = %d, want 8", s.BatchSize)
	}
	if s.Algorithm != "round_robin" {
		t.Errorf("Algorithm = %q, want round_robin", s.Algorithm)
	}
	if s.DecayRate != 0.1 {
		t.Errorf("DecayRate = %v, want 0.1", s.DecayRate)
	}
	if s.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 250ms", s.BaseDelay)
	}
}

func TestFromEnv_BadValuesKeepDefaults(t *testing.T) {
	t.Setenv("TASKMESH_BATCH_SIZE", "not-a-number")
	t.Setenv("TASKMESH_MAX_EXECUTION_TIME", "soon")

	s := FromEnv()
	d := Default()
	if s.BatchSize != d.BatchSize {
		t.Errorf("BatchSize = %d, want default %d", s.BatchSize, d.BatchSize)
	}
	if s.MaxExecutionTime != d.MaxExecutionTime {
		t.Errorf("MaxExecutionTime = %v, want default %v", s.MaxExecutionTime, d.MaxExecutionTime)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero batch size", func(s *Settings) { s.BatchSize = 0 }},
		{"zero min workers", func(s *Settings) { s.MinWorkers = 0 }},
		{"max below min workers", func(s *Settings) { s.MaxWorkers = 1; s.MinWorkers = 4 }},
		{"decay rate at 1", func(s *Settings) { s.DecayRate = 1 }},
		{"unknown backoff", func(s *Settings) { s.BackoffStrategy = "jittered" }},
		{"breaker threshold zero", func(s *Settings) { s.BreakerThreshold = 0 }},
		{"negative floor", func(s *Settings) { s.MinPriorityFloor = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() accepted invalid settings")
			}
		})
	}
}
