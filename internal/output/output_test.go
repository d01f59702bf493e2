package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/logrusorgru/aurora/v4"
	"gopkg.in/yaml.v3"
)

func init() {
	aurora.DefaultColorizer = aurora.New(aurora.WithColors(false))
}

func sample() *domain.RebalanceResult {
	return &domain.RebalanceResult{
		Application:     "myapp",
		Domain:          "myapp.example.org",
		Target:          "myapp-v2",
		RequestedWeight: 100,
		AppliedWeight:   100,
		Applied:         true,
		Records: []domain.RecordWeight{
			{Identifier: "myapp-v1", Version: "v1", OldWeight: 200, Weight: 100, Endpoint: "lb-1"},
			{Identifier: "myapp-v2", Version: "v2", OldWeight: 0, Weight: 100, Endpoint: "lb-2"},
		},
		Changes: []domain.Change{
			{Action: domain.ChangeUpsert, Record: domain.WeightedRecord{Identifier: "myapp-v1", Weight: 100}},
			{Action: domain.ChangeUpsert, Record: domain.WeightedRecord{Identifier: "myapp-v2", Weight: 100}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"", "text", "json", "yaml"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("Expected error for xml")
	}
}

func TestDistribution_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := Distribution(&buf, FormatText, sample()); err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"IDENTIFIER", "myapp-v1", "200 -> 100", "0 -> 100", "50.0%", "lb-2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "adjusted") {
		t.Errorf("Did not expect an adjustment note:\n%s", out)
	}
}

func TestDistribution_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Distribution(&buf, FormatJSON, sample()); err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	var got domain.RebalanceResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Weights()["myapp-v2"] != 100 {
		t.Errorf("Unexpected weights: %v", got.Weights())
	}
}

func TestDistribution_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Distribution(&buf, FormatYAML, sample()); err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if got["appliedWeight"] != 100 {
		t.Errorf("Expected appliedWeight 100, got %v", got["appliedWeight"])
	}
}

func TestNotes(t *testing.T) {
	r := sample()
	r.RequestedWeight = 60
	r.AppliedWeight = 200
	notes := Notes(r)
	if len(notes) != 1 || !strings.Contains(notes[0], "requested 30.0% was adjusted to 100.0%") {
		t.Errorf("Unexpected notes: %v", notes)
	}

	r = sample()
	for i := range r.Records {
		r.Records[i].Weight = 0
	}
	notes = Notes(r)
	if len(notes) != 1 || !strings.Contains(notes[0], "no longer receives any traffic") {
		t.Errorf("Unexpected notes: %v", notes)
	}

	r = sample()
	r.Applied = false
	r.DryRun = true
	notes = Notes(r)
	if len(notes) != 1 || !strings.Contains(notes[0], "dry run: 2 change(s)") {
		t.Errorf("Unexpected notes: %v", notes)
	}

	r = sample()
	r.Target = ""
	if notes := Notes(r); len(notes) != 0 {
		t.Errorf("Expected no notes for a report, got %v", notes)
	}
}

func TestVersions(t *testing.T) {
	var buf bytes.Buffer
	err := Versions(&buf, FormatText, []domain.StackVersion{
		{Application: "myapp", Version: "v1", Domain: "myapp.example.org", Endpoint: "lb-1", StackName: "myapp-v1"},
	})
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if !strings.Contains(buf.String(), "myapp.example.org") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}
