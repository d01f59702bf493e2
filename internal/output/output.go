// Package output renders traffic distributions for operators.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v4"
	"gopkg.in/yaml.v3"
)

// Format represents the output format supported by the CLI.
type Format string

const (
	// FormatText means a human-readable table
	FormatText Format = "text"

	// FormatJSON means machine-readable JSON output
	FormatJSON Format = "json"

	// FormatYAML means machine-readable YAML output
	FormatYAML Format = "yaml"
)

// ParseFormat validates an output format flag.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q, one of text, json, yaml", s)
	}
}

// Distribution writes a distribution in the given format.
func Distribution(w io.Writer, format Format, result *domain.RebalanceResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		return writeYAML(w, result)
	}

	t := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 4, ' ', 0))
	t.AddHeader("IDENTIFIER", "VERSION", "WEIGHT", "TRAFFIC", "ENDPOINT")
	for _, r := range result.Records {
		t.AddLine(
			identifier(r, result.Target),
			r.Version,
			weight(r),
			fmt.Sprintf("%.1f%%", r.Percentage()),
			r.Endpoint,
		)
	}
	t.Print()

	for _, note := range Notes(result) {
		if _, err := fmt.Fprintln(w, note); err != nil {
			return err
		}
	}
	return nil
}

// Versions writes the live versions of an application.
func Versions(w io.Writer, format Format, versions []domain.StackVersion) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, versions)
	case FormatYAML:
		return writeYAML(w, versions)
	}

	t := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 4, ' ', 0))
	t.AddHeader("APPLICATION", "VERSION", "DOMAIN", "ENDPOINT", "STACK")
	for _, v := range versions {
		t.AddLine(v.Application, v.Version, v.Domain, v.Endpoint, v.StackName)
	}
	t.Print()
	return nil
}

// Notes explains what happened beyond the plain table.
func Notes(result *domain.RebalanceResult) []string {
	var notes []string
	if result.Target == "" {
		return notes
	}
	if result.Adjusted() {
		notes = append(notes, aurora.Yellow(fmt.Sprintf(
			"%s: requested %.1f%% was adjusted to %.1f%% to keep the total at 100%%",
			result.Target,
			domain.WeightToPercentage(result.RequestedWeight),
			domain.WeightToPercentage(result.AppliedWeight))).String())
	}
	if result.TotalWeight() == 0 {
		notes = append(notes, aurora.Red(fmt.Sprintf(
			"%s no longer receives any traffic", result.Domain)).String())
	}
	switch {
	case result.DryRun:
		notes = append(notes, aurora.Cyan(fmt.Sprintf(
			"dry run: %d change(s) not submitted", len(result.Changes))).String())
	case !result.Applied && len(result.Changes) == 0:
		notes = append(notes, "no changes")
	}
	return notes
}

func identifier(r domain.RecordWeight, target string) any {
	if r.Identifier == target {
		return aurora.Bold(r.Identifier)
	}
	return r.Identifier
}

func weight(r domain.RecordWeight) any {
	if r.OldWeight == r.Weight {
		return r.Weight
	}
	text := fmt.Sprintf("%d -> %d", r.OldWeight, r.Weight)
	if r.Weight > r.OldWeight {
		return aurora.Green(text)
	}
	return aurora.Yellow(text)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
