package cloudauth

import (
	"context"
	"sync"
	"time"
)

// Severity indicates the severity level of a validation check.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// CheckStatus indicates the result of a validation check.
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusSkipped CheckStatus = "skipped"
)

// ValidationCheck represents a single validation check result.
type ValidationCheck struct {
	// ID is a unique identifier for this check type.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Status is the check result.
	Status CheckStatus `json:"status"`

	// Severity indicates how serious a failure would be.
	Severity Severity `json:"severity"`

	// Evidence contains data supporting the check result. Never tokens.
	Evidence map[string]interface{} `json:"evidence,omitempty"`

	// Remediation suggests how to fix a failure.
	Remediation string `json:"remediation,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration"`
}

// ValidationSummary aggregates check results.
type ValidationSummary struct {
	TotalChecks   int  `json:"total_checks"`
	PassedChecks  int  `json:"passed_checks"`
	FailedChecks  int  `json:"failed_checks"`
	SkippedChecks int  `json:"skipped_checks"`
	IsValid       bool `json:"is_valid"`
}

// ValidationReport contains the results of validating a credential record.
type ValidationReport struct {
	Vendor      CloudProvider     `json:"vendor"`
	Checks      []ValidationCheck `json:"checks"`
	Summary     ValidationSummary `json:"summary"`
	ValidatedAt time.Time         `json:"validated_at"`
}

// IsValid reports whether no check at error severity or above failed.
func (r *ValidationReport) IsValid() bool {
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed && check.Severity.rank() >= SeverityError.rank() {
			return false
		}
	}
	return true
}

// FailedChecks returns the checks that failed.
func (r *ValidationReport) FailedChecks() []ValidationCheck {
	var failed []ValidationCheck
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}

// Validator performs a health check on a credential record.
type Validator interface {
	// ID returns the unique identifier for this validator.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Validate performs the check.
	Validate(ctx context.Context, rec *CredentialRecord) ValidationCheck
}

// ValidatorRegistry holds registered validators.
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	byVendor   map[CloudProvider][]string
}

// NewValidatorRegistry creates a new validator registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{
		validators: make(map[string]Validator),
		byVendor:   make(map[CloudProvider][]string),
	}
}

// Register adds a validator for the given vendors.
func (r *ValidatorRegistry) Register(v Validator, vendors ...CloudProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.ID()] = v
	for _, p := range vendors {
		r.byVendor[p] = append(r.byVendor[p], v.ID())
	}
}

// ForVendor returns validators applicable to a vendor.
func (r *ValidatorRegistry) ForVendor(p CloudProvider) []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byVendor[p]
	validators := make([]Validator, 0, len(ids))
	for _, id := range ids {
		if v, ok := r.validators[id]; ok {
			validators = append(validators, v)
		}
	}
	return validators
}

// DefaultValidators is the global validator registry.
var DefaultValidators = NewValidatorRegistry()

func init() {
	DefaultValidators.Register(CredentialConfigValidator{}, ValidVendors...)
}

func newCheck(v Validator, severity Severity) ValidationCheck {
	return ValidationCheck{
		ID:       v.ID(),
		Name:     v.Name(),
		Severity: severity,
		Evidence: make(map[string]interface{}),
	}
}

// CredentialConfigValidator checks the record's static fields.
type CredentialConfigValidator struct{}

func (CredentialConfigValidator) ID() string   { return "credential_config" }
func (CredentialConfigValidator) Name() string { return "Credential Configuration" }

func (v CredentialConfigValidator) Validate(_ context.Context, rec *CredentialRecord) ValidationCheck {
	start := time.Now()
	check := newCheck(v, SeverityCritical)
	info := rec.Info()
	check.Evidence["vendor"] = string(info.Vendor())
	if err := info.Validate(); err != nil {
		check.Status = CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Fix the credential fields reported in the error"
	} else {
		check.Status = CheckStatusPassed
	}
	check.Duration = time.Since(start)
	return check
}

// TokenStateValidator reports the gate state without refreshing.
type TokenStateValidator struct {
	gate *RefreshGate
}

// NewTokenStateValidator creates a validator that inspects rec through gate.
func NewTokenStateValidator(gate *RefreshGate) *TokenStateValidator {
	return &TokenStateValidator{gate: gate}
}

func (v *TokenStateValidator) ID() string   { return "token_state" }
func (v *TokenStateValidator) Name() string { return "Held Token State" }

func (v *TokenStateValidator) Validate(_ context.Context, rec *CredentialRecord) ValidationCheck {
	start := time.Now()
	check := newCheck(v, SeverityWarning)
	state, err := v.gate.State(rec)
	switch {
	case err != nil:
		check.Status = CheckStatusFailed
		check.Severity = SeverityError
		check.Evidence["error"] = err.Error()
	case state == StateExpired:
		check.Status = CheckStatusFailed
		check.Evidence["state"] = state.String()
		check.Remediation = "The next storage operation will refresh the token"
	default:
		check.Status = CheckStatusPassed
		check.Evidence["state"] = state.String()
	}
	check.Duration = time.Since(start)
	return check
}

// TokenAcquisitionValidator runs the refresh gate to prove a token can be
// obtained.
type TokenAcquisitionValidator struct {
	gate *RefreshGate
}

// NewTokenAcquisitionValidator creates a validator that refreshes through gate.
func NewTokenAcquisitionValidator(gate *RefreshGate) *TokenAcquisitionValidator {
	return &TokenAcquisitionValidator{gate: gate}
}

func (v *TokenAcquisitionValidator) ID() string   { return "token_acquisition" }
func (v *TokenAcquisitionValidator) Name() string { return "Token Acquisition Test" }

func (v *TokenAcquisitionValidator) Validate(ctx context.Context, rec *CredentialRecord) ValidationCheck {
	start := time.Now()
	check := newCheck(v, SeverityCritical)

	refreshed, err := v.gate.Ensure(ctx, rec)
	if err != nil {
		check.Status = CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Check trust relationship configuration and permissions"
		check.Duration = time.Since(start)
		return check
	}

	tok := rec.Current()
	check.Status = CheckStatusPassed
	check.Evidence["refreshed"] = refreshed
	switch {
	case !tok.Expiry.IsZero():
		check.Evidence["expires_at"] = tok.Expiry.Format(time.RFC3339)
	case tok.ExpiresOn != 0:
		check.Evidence["expires_on"] = tok.ExpiresOn
	}
	check.Duration = time.Since(start)
	return check
}

// RunValidation executes a set of validators and returns a report.
func RunValidation(ctx context.Context, rec *CredentialRecord, validators []Validator) *ValidationReport {
	report := &ValidationReport{
		Vendor:      rec.Vendor(),
		Checks:      make([]ValidationCheck, 0, len(validators)),
		ValidatedAt: time.Now().UTC(),
	}

	for _, v := range validators {
		check := v.Validate(ctx, rec)
		report.Checks = append(report.Checks, check)

		switch check.Status {
		case CheckStatusPassed:
			report.Summary.PassedChecks++
		case CheckStatusFailed:
			report.Summary.FailedChecks++
		case CheckStatusSkipped:
			report.Summary.SkippedChecks++
		}
		report.Summary.TotalChecks++
	}

	report.Summary.IsValid = report.IsValid()
	return report
}
