// Package validation checks operator input before it reaches the traffic controller.
// Application names are DNS labels because they become part of record identifiers
// and stack names; versions are alphanumeric as CloudFormation stack name suffixes.
package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

const (
	maxLabelLength = 63
	maxNameLength  = 253
	// Route53 limits set identifiers to 128 characters.
	maxIdentifierLength = 128
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// validateLabel checks a single DNS label: letters, digits and inner hyphens.
func validateLabel(label, entityType string) error {
	if label == "" {
		return fmt.Errorf("%s must not be empty", entityType)
	}
	if len(label) > maxLabelLength {
		return fmt.Errorf("%s must be at most %d characters", entityType, maxLabelLength)
	}
	if !isAlphaNum(label[0]) || !isAlphaNum(label[len(label)-1]) {
		return fmt.Errorf("%s must start and end with a letter or number", entityType)
	}
	for _, b := range []byte(label) {
		if !isAlphaNum(b) && b != '-' {
			return fmt.Errorf("%s can only contain letters, numbers, or hyphens", entityType)
		}
	}
	return nil
}

// ValidateApplicationName validates an application name.
// Application names must start with a letter and form a valid DNS label.
func ValidateApplicationName(name string) error {
	if err := validateLabel(name, "application name"); err != nil {
		return err
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("application name must start with a letter")
	}
	return nil
}

// ValidateVersion validates a version label.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version must not be empty")
	}
	if len(version) > maxLabelLength {
		return fmt.Errorf("version must be at most %d characters", maxLabelLength)
	}
	for _, b := range []byte(version) {
		if !isAlphaNum(b) {
			return fmt.Errorf("version can only contain letters or numbers")
		}
	}
	return nil
}

// ValidatePercentage validates a traffic percentage.
func ValidatePercentage(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("percentage must be a number")
	}
	if p < 0 || p > 100 {
		return fmt.Errorf("percentage must be between 0 and 100")
	}
	return nil
}

// ValidateDomainName validates a fully qualified DNS name. A trailing dot is allowed.
func ValidateDomainName(name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return fmt.Errorf("domain must not be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("domain must be at most %d characters", maxNameLength)
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain must be fully qualified")
	}
	for _, label := range labels {
		if label == "*" {
			continue
		}
		if err := validateLabel(label, "domain label"); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEndpoint validates the target a weighted record points at.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if strings.ContainsAny(endpoint, " \t/:") {
		return fmt.Errorf("endpoint must be a host name")
	}
	return ValidateDomainName(endpoint)
}

// ValidateRebalanceRequest validates an operator request.
func ValidateRebalanceRequest(req *domain.RebalanceRequest) error {
	var errs ValidationErrors
	if err := ValidateApplicationName(req.Application); err != nil {
		errs.Add("application", req.Application, err.Error())
	}
	if err := ValidateVersion(req.Version); err != nil {
		errs.Add("version", req.Version, err.Error())
	}
	if err := ValidatePercentage(req.Percentage); err != nil {
		errs.AddPercentage("percentage", req.Percentage, err.Error())
	}
	if !errs.HasErrors() {
		id := domain.RecordIdentifier(req.Application, req.Version)
		if len(id) > maxIdentifierLength {
			errs.Add("version", req.Version, fmt.Sprintf("record identifier %q exceeds %d characters", id, maxIdentifierLength))
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateStackVersion validates a version registration.
func ValidateStackVersion(v *domain.StackVersion) error {
	var errs ValidationErrors
	if err := ValidateApplicationName(v.Application); err != nil {
		errs.Add("application", v.Application, err.Error())
	}
	if err := ValidateVersion(v.Version); err != nil {
		errs.Add("version", v.Version, err.Error())
	}
	if err := ValidateDomainName(v.Domain); err != nil {
		errs.Add("domain", v.Domain, err.Error())
	}
	if err := ValidateEndpoint(v.Endpoint); err != nil {
		errs.Add("endpoint", v.Endpoint, err.Error())
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
