package validation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

func TestValidateApplicationName(t *testing.T) {
	tests := []struct {
		name    string
		app     string
		wantErr bool
	}{
		{"valid simple", "myapp", false},
		{"valid with hyphen", "my-app", false},
		{"valid with numbers", "app2", false},
		{"empty", "", true},
		{"starts with number", "2app", true},
		{"starts with hyphen", "-app", true},
		{"ends with hyphen", "app-", true},
		{"contains underscore", "my_app", true},
		{"contains dot", "my.app", true},
		{"too long", strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateApplicationName(tt.app)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateApplicationName(%q) error = %v, wantErr %v", tt.app, err, tt.wantErr)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"valid", "v1", false},
		{"numeric", "42", false},
		{"mixed case", "V2beta", false},
		{"empty", "", true},
		{"hyphen", "v1-2", true},
		{"dot", "1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		p       float64
		wantErr bool
	}{
		{0, false},
		{0.5, false},
		{100, false},
		{-0.1, true},
		{100.5, true},
		{math.NaN(), true},
		{math.Inf(1), true},
	}

	for _, tt := range tests {
		err := ValidatePercentage(tt.p)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePercentage(%v) error = %v, wantErr %v", tt.p, err, tt.wantErr)
		}
	}
}

func TestValidateDomainName(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid", "myapp.example.org", false},
		{"trailing dot", "myapp.example.org.", false},
		{"wildcard", "*.example.org", false},
		{"single label", "localhost", true},
		{"empty label", "myapp..org", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomainName(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomainName(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	if err := ValidateEndpoint("myapp-v1-123.eu-west-1.elb.amazonaws.com"); err != nil {
		t.Errorf("Expected valid endpoint, got %v", err)
	}
	for _, bad := range []string{"", "http://lb.example.org", "lb.example.org:443"} {
		if err := ValidateEndpoint(bad); err == nil {
			t.Errorf("Expected ValidateEndpoint(%q) to fail", bad)
		}
	}
}

func TestValidateRebalanceRequest(t *testing.T) {
	err := ValidateRebalanceRequest(&domain.RebalanceRequest{Application: "myapp", Version: "v1", Percentage: 50})
	if err != nil {
		t.Fatalf("Expected valid request, got %v", err)
	}

	err = ValidateRebalanceRequest(&domain.RebalanceRequest{Application: "1app", Version: "v-1", Percentage: 101})
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("Expected ValidationErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "application" || errs[2].Field != "percentage" {
		t.Errorf("Unexpected fields: %s, %s", errs[0].Field, errs[2].Field)
	}
	if !strings.Contains(err.Error(), "; percentage: ") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Error("Expected validation errors to match ErrInvalidInput")
	}
	if errs[2].Value != "101" {
		t.Errorf("Expected percentage value 101, got %q", errs[2].Value)
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	if errs.HasErrors() {
		t.Fatal("Expected no errors")
	}
	errs.Required("percentage")
	errs.AddPercentage("percentage", 12.5, "must not exceed 100")
	errs.Add("version", "v-1", "must be alphanumeric")

	if got := errs.Fields(); len(got) != 2 || got[0] != "percentage" || got[1] != "version" {
		t.Errorf("Fields() = %v", got)
	}
	if errs[0].Message != "is required" || errs[0].Value != "" {
		t.Errorf("Unexpected required error: %+v", errs[0])
	}
	if errs[1].Value != "12.5" {
		t.Errorf("Expected value 12.5, got %q", errs[1].Value)
	}
	want := "percentage: is required; percentage: must not exceed 100; version: must be alphanumeric"
	if errs.Error() != want {
		t.Errorf("Error() = %q, want %q", errs.Error(), want)
	}
	if !errors.Is(errs, domain.ErrInvalidInput) || errors.Is(errs, domain.ErrNotFound) {
		t.Error("Expected validation errors to match only ErrInvalidInput")
	}
}

func TestValidateStackVersion(t *testing.T) {
	v := &domain.StackVersion{
		Application: "myapp",
		Version:     "v1",
		Domain:      "myapp.example.org",
		Endpoint:    "lb-1.elb.amazonaws.com",
	}
	if err := ValidateStackVersion(v); err != nil {
		t.Fatalf("Expected valid version, got %v", err)
	}

	v.Endpoint = ""
	v.Domain = "nodot"
	var errs ValidationErrors
	if !errors.As(ValidateStackVersion(v), &errs) || len(errs) != 2 {
		t.Errorf("Expected 2 validation errors, got %v", errs)
	}
}
