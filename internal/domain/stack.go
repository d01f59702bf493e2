package domain

import "strings"

// StackVersion is one live deployment of an application.
// All versions of an application compete for the traffic of the same domain.
type StackVersion struct {
	Application string `json:"application" yaml:"application" db:"application"`
	Version     string `json:"version" yaml:"version" db:"version"`
	Domain      string `json:"domain" yaml:"domain" db:"domain"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" db:"endpoint"`
	StackName   string `json:"stackName,omitempty" yaml:"stackName,omitempty" db:"stack_name"`
}

// Identifier returns the weighted record identifier of the version.
func (v StackVersion) Identifier() string {
	return RecordIdentifier(v.Application, v.Version)
}

// RecordIdentifier builds the set identifier used for an application version.
func RecordIdentifier(application, version string) string {
	return application + "-" + version
}

// NormalizeDomain lowercases a DNS name and strips the trailing root dot
// so names coming from different collaborators compare equal.
func NormalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// RegisterVersionRequest is the request body for registering a version in the inventory.
type RegisterVersionRequest struct {
	Domain    string `json:"domain"`
	Endpoint  string `json:"endpoint"`
	StackName string `json:"stackName,omitempty"`
}
