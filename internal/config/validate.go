package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"grimm.is/knockd/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration. ApplyDefaults should run first.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateKnock()...)
	errs = append(errs, c.validateFirewall()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateKnock() ValidationErrors {
	var errs ValidationErrors
	k := c.Knock
	if k == nil {
		return ValidationErrors{{Field: "knock", Message: "block is required"}}
	}

	if len(k.Sequence) < 2 {
		errs = append(errs, ValidationError{
			Field:   "knock.sequence",
			Message: fmt.Sprintf("must contain at least 2 ports, got %d", len(k.Sequence)),
		})
	}

	seen := make(map[int]bool, len(k.Sequence))
	for i, port := range k.Sequence {
		field := fmt.Sprintf("knock.sequence[%d]", i)
		if !validPort(port) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
			})
			continue
		}
		if seen[port] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("port %d appears more than once", port),
			})
		}
		seen[port] = true
	}

	if !validPort(k.ProtectedPort) {
		errs = append(errs, ValidationError{
			Field:   "knock.protected_port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", k.ProtectedPort),
		})
	} else if seen[k.ProtectedPort] {
		errs = append(errs, ValidationError{
			Field:   "knock.protected_port",
			Message: fmt.Sprintf("port %d is also a sentinel port", k.ProtectedPort),
		})
	}

	errs = append(errs, validatePositiveDuration("knock.window", k.Window)...)
	errs = append(errs, validatePositiveDuration("knock.grant_ttl", k.GrantTTL)...)

	if k.ListenAddress != "" {
		if _, err := netip.ParseAddr(k.ListenAddress); err != nil {
			errs = append(errs, ValidationError{
				Field:   "knock.listen_address",
				Message: fmt.Sprintf("invalid IP address: %s", k.ListenAddress),
			})
		}
	}

	return errs
}

func (c *Config) validateFirewall() ValidationErrors {
	if c.Firewall == nil {
		return nil
	}
	switch c.Firewall.Backend {
	case BackendNFTables, BackendIPTables, BackendMemory:
	default:
		return ValidationErrors{{
			Field: "firewall.backend",
			Message: fmt.Sprintf("unknown backend %q (expected %s, %s or %s)",
				c.Firewall.Backend, BackendNFTables, BackendIPTables, BackendMemory),
		}}
	}
	return nil
}

func (c *Config) validateMetrics() ValidationErrors {
	if c.Metrics == nil || !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return ValidationErrors{{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", c.Metrics.Listen, err),
		}}
	}
	return nil
}

func (c *Config) validateLog() ValidationErrors {
	if c.Log == nil {
		return nil
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return ValidationErrors{{Field: "log.level", Message: err.Error()}}
	}
	return nil
}

func validatePositiveDuration(field, value string) ValidationErrors {
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration %q", value)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("must be positive, got %s", value)}}
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
