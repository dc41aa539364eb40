package knock

import (
	"fmt"
	"time"

	"grimm.is/knockd/internal/config"
)

// Event is one observed connection attempt on a sentinel port.
type Event struct {
	Source     string
	Port       int
	ObservedAt time.Time
}

// ResetReason explains why a knock discarded progress.
type ResetReason string

const (
	ResetNone     ResetReason = ""
	ResetMismatch ResetReason = "mismatch" // port did not match the next expected port
	ResetExpired  ResetReason = "expired"  // earlier knocks fell out of the window
)

// Decision is the tracker's verdict on a single knock.
type Decision struct {
	Granted    bool
	Generation uint64      // new generation when Granted
	Position   int         // progress length after the knock
	Reset      ResetReason // non-empty when progress was discarded
	Expected   int         // port that was expected at this position, for logging
}

// Grant is one logical grant of the protected port to a source address.
type Grant struct {
	ID         string
	Source     string
	Port       int
	Generation uint64
	GrantedAt  time.Time
	ExpiresAt  time.Time
}

func (g Grant) String() string {
	return fmt.Sprintf("%s port %d gen %d", g.Source, g.Port, g.Generation)
}

// Settings is the immutable protocol configuration.
type Settings struct {
	Sequence      []int
	ProtectedPort int
	Window        time.Duration
	GrantTTL      time.Duration
	ListenAddress string
}

// SettingsFromConfig converts a validated knock block.
func SettingsFromConfig(k *config.KnockConfig) Settings {
	return Settings{
		Sequence:      append([]int(nil), k.Sequence...),
		ProtectedPort: k.ProtectedPort,
		Window:        k.WindowDuration(),
		GrantTTL:      k.GrantTTLDuration(),
		ListenAddress: k.ListenAddress,
	}
}

// Validate checks the invariants the tracker and scheduler rely on.
func (s Settings) Validate() error {
	var errs config.ValidationErrors

	if len(s.Sequence) < 2 {
		errs = append(errs, config.ValidationError{Field: "sequence", Message: "must contain at least 2 ports"})
	}
	seen := make(map[int]bool, len(s.Sequence))
	for i, p := range s.Sequence {
		if p < 1 || p > 65535 {
			errs = append(errs, config.ValidationError{Field: fmt.Sprintf("sequence[%d]", i), Message: fmt.Sprintf("port %d out of range", p)})
		} else if seen[p] {
			errs = append(errs, config.ValidationError{Field: fmt.Sprintf("sequence[%d]", i), Message: fmt.Sprintf("duplicate port %d", p)})
		}
		seen[p] = true
	}
	if s.ProtectedPort < 1 || s.ProtectedPort > 65535 {
		errs = append(errs, config.ValidationError{Field: "protected_port", Message: fmt.Sprintf("port %d out of range", s.ProtectedPort)})
	} else if seen[s.ProtectedPort] {
		errs = append(errs, config.ValidationError{Field: "protected_port", Message: "must not be a sentinel port"})
	}
	if s.Window <= 0 {
		errs = append(errs, config.ValidationError{Field: "window", Message: "must be positive"})
	}
	if s.GrantTTL <= 0 {
		errs = append(errs, config.ValidationError{Field: "grant_ttl", Message: "must be positive"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
