/*
Package factory converts tier table documents into incentive.Table values.

PURPOSE:
  Lets the prize ladder be changed without a code change. Marketing edits a
  JSON or YAML file, the server loads it at startup (tiers_file), and the
  same schema is served back by GET /api/tiers.

SCHEMA (JSON):
  {
    "currency": "COP",
    "tiers": [
      {"level": 1, "threshold": 1000000, "prize": "Gift card"},
      {"level": 2, "threshold": 3000000, "prize": "Dinner for two"}
    ]
  }

SCHEMA (YAML):
  currency: COP
  tiers:
    - level: 1
      threshold: 1000000
      prize: Gift card

RULES:
  - threshold is in minor units
  - level may be omitted; it defaults to the 1-based position
  - unknown fields are rejected
  - everything else is validated by incentive.NewTable

SEE ALSO:
  - incentive/tier.go: Table invariants
  - api/handlers.go:   GET /api/tiers
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// TableJSON is the document form of a tier table.
type TableJSON struct {
	Currency string     `json:"currency,omitempty" yaml:"currency,omitempty"`
	Tiers    []TierJSON `json:"tiers" yaml:"tiers"`
}

// TierJSON is one rung of the ladder.
type TierJSON struct {
	Level     int    `json:"level" yaml:"level"`
	Threshold int64  `json:"threshold" yaml:"threshold"`
	Prize     string `json:"prize" yaml:"prize"`
}

// ErrEmptyDocument is returned for blank input.
var ErrEmptyDocument = errors.New("empty tier document")

// =============================================================================
// PARSING
// =============================================================================

// ParseTable reads a JSON or YAML tier document. Input whose first
// non-blank byte is '{' is read as JSON, anything else as YAML.
func ParseTable(data []byte) (incentive.Table, *TableJSON, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return incentive.Table{}, nil, ErrEmptyDocument
	}

	var doc TableJSON
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return incentive.Table{}, nil, fmt.Errorf("invalid tier JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return incentive.Table{}, nil, fmt.Errorf("invalid tier YAML: %w", err)
		}
	}

	table, err := doc.Table()
	if err != nil {
		return incentive.Table{}, nil, err
	}
	return table, &doc, nil
}

// LoadTableFile reads and parses a tier document from disk.
func LoadTableFile(path string) (incentive.Table, *TableJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return incentive.Table{}, nil, fmt.Errorf("read tier file: %w", err)
	}
	table, doc, err := ParseTable(data)
	if err != nil {
		return incentive.Table{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, doc, nil
}

// Table validates the document and builds the ladder.
func (d TableJSON) Table() (incentive.Table, error) {
	tiers := make([]incentive.Tier, len(d.Tiers))
	for i, t := range d.Tiers {
		level := t.Level
		if level == 0 {
			level = i + 1
		}
		tiers[i] = incentive.Tier{
			Level:     level,
			Threshold: incentive.Money(t.Threshold),
			Prize:     t.Prize,
		}
	}
	return incentive.NewTable(tiers)
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ToJSON converts a table back into its document form.
func ToJSON(t incentive.Table, currency string) TableJSON {
	tiers := t.Tiers()
	doc := TableJSON{Currency: currency, Tiers: make([]TierJSON, len(tiers))}
	for i, tier := range tiers {
		doc.Tiers[i] = TierJSON{
			Level:     tier.Level,
			Threshold: int64(tier.Threshold),
			Prize:     tier.Prize,
		}
	}
	return doc
}

// MarshalYAML renders the document as YAML (used by the tiers CLI command).
func MarshalYAML(doc TableJSON) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
