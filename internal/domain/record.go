package domain

// ChangeAction is the operation applied to one weighted record.
type ChangeAction string

const (
	ChangeCreate ChangeAction = "CREATE"
	ChangeUpsert ChangeAction = "UPSERT"
)

// AliasTarget points a record at another DNS resource instead of literal values.
type AliasTarget struct {
	HostedZoneID         string `json:"hostedZoneId"`
	DNSName              string `json:"dnsName"`
	EvaluateTargetHealth bool   `json:"evaluateTargetHealth,omitempty"`
}

// WeightedRecord is one entry of the weighted record set of a domain.
type WeightedRecord struct {
	Identifier string       `json:"identifier" db:"identifier"`
	DNSName    string       `json:"dnsName" db:"dns_name"`
	Type       string       `json:"type" db:"record_type"`
	TTL        int64        `json:"ttl" db:"ttl"`
	Weight     int          `json:"weight" db:"weight"`
	Values     []string     `json:"values,omitempty" db:"-"`
	Alias      *AliasTarget `json:"alias,omitempty" db:"-"`
}

// RecordSet is the weighted record set of a domain as read from a store.
// Revision is an opaque tag identifying this state of the set.
type RecordSet struct {
	Domain   string           `json:"domain"`
	Records  []WeightedRecord `json:"records"`
	Revision string           `json:"revision,omitempty"`
}

// Find returns the record with the given identifier.
func (s *RecordSet) Find(identifier string) (WeightedRecord, bool) {
	for _, r := range s.Records {
		if r.Identifier == identifier {
			return r, true
		}
	}
	return WeightedRecord{}, false
}

// TotalWeight returns the sum of all record weights.
func (s *RecordSet) TotalWeight() int {
	total := 0
	for _, r := range s.Records {
		total += r.Weight
	}
	return total
}

// Change is a single record mutation inside a batch.
type Change struct {
	Action ChangeAction   `json:"action"`
	Record WeightedRecord `json:"record"`
}

// ChangeBatch is submitted to a record store as one atomic unit.
// A non-empty Revision asks the store to reject the batch when the
// record set changed since it was read.
type ChangeBatch struct {
	Domain   string   `json:"domain"`
	Changes  []Change `json:"changes"`
	Revision string   `json:"revision,omitempty"`
	Comment  string   `json:"comment,omitempty"`
}
