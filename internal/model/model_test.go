package model

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateRunning, true},
		{StateIdle, StateFinished, false},
		{StateIdle, StateCanceled, false},
		{StateRunning, StateFinished, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCanceled, true},
		{StateRunning, StateIdle, false},
		{StateRunning, StateRunning, false},
		{StateFinished, StateRunning, false},
		{StateFailed, StateFinished, false},
		{StateCanceled, StateIdle, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateIdle:     false,
		StateRunning:  false,
		StateFinished: true,
		StateFailed:   true,
		StateCanceled: true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{PersistOnRead: true}.WithDefaults(DefaultConfig())
	if cfg.ResultExpiration != DefaultResultExpiration {
		t.Errorf("ResultExpiration = %v, want %v", cfg.ResultExpiration, DefaultResultExpiration)
	}
	if cfg.WorkTimeout != DefaultWorkTimeout {
		t.Errorf("WorkTimeout = %v, want %v", cfg.WorkTimeout, DefaultWorkTimeout)
	}
	if !cfg.PersistOnRead {
		t.Error("PersistOnRead was reset by WithDefaults")
	}

	explicit := Config{ResultExpiration: time.Second}.WithDefaults(DefaultConfig())
	if explicit.ResultExpiration != time.Second {
		t.Errorf("ResultExpiration = %v, want 1s", explicit.ResultExpiration)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	if err := (Config{ResultExpiration: -time.Second}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative expiration error = %v, want ErrInvalidConfig", err)
	}
	if err := (Config{WorkTimeout: -time.Second}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative timeout error = %v, want ErrInvalidConfig", err)
	}
}

func TestTaskExpired(t *testing.T) {
	now := time.Now()
	task := NewTask(NewID(), Config{ResultExpiration: time.Minute}, now)

	if task.State != StateIdle {
		t.Errorf("new task state = %q, want idle", task.State)
	}
	if task.Expired(now.Add(time.Hour)) {
		t.Error("unfinished task reported expired")
	}

	finished := now
	task.FinishedAt = &finished
	if task.Expired(now.Add(30 * time.Second)) {
		t.Error("task expired before its expiration elapsed")
	}
	if !task.Expired(now.Add(61 * time.Second)) {
		t.Error("task not expired after its expiration elapsed")
	}
}
