package pricing

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/noah-isme/esim-admin/internal/view"
)

// Package is an eSIM bundle as used by the bulk price calculator. Extra
// holds the catalogue fields the calculator does not read; they are
// marshalled back alongside the known fields.
type Package struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Countries  []string       `json:"countries"`
	Region     string         `json:"region"`
	DataVolume string         `json:"dataVolume"`
	Validity   string         `json:"validity,omitempty"`
	Price      float64        `json:"price"`
	Extra      map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the object. Known fields win on clashes.
func (p Package) MarshalJSON() ([]byte, error) {
	type plain Package
	known, err := json.Marshal(plain(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]any, len(p.Extra)+7)
	for k, v := range p.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// HasCountry reports whether country is one of the package destinations.
func (p Package) HasCountry(country string) bool {
	country = strings.TrimSpace(country)
	for _, c := range p.Countries {
		if strings.EqualFold(strings.TrimSpace(c), country) {
			return true
		}
	}
	return false
}

// Unlimited reports whether the data volume is advertised as unlimited.
func (p Package) Unlimited() bool {
	return strings.Contains(strings.ToLower(p.DataVolume), "unlimited")
}

// Fields maps package attributes to record field names of the catalogue API.
type Fields struct {
	Countries  []string
	Region     string
	DataVolume []string
	Validity   string
	Price      string
}

// DefaultFields matches the bundle catalogue payload.
var DefaultFields = Fields{
	Countries:  []string{"countries", "country", "coverage"},
	Region:     "region",
	DataVolume: []string{"dataVolume", "data", "dataAmount"},
	Validity:   "validity",
	Price:      "price",
}

// read lists every record field PackageFromRecord may consume.
func (f Fields) read() map[string]bool {
	keys := map[string]bool{"id": true, "_id": true, "name": true, f.Region: true, f.Validity: true, f.Price: true}
	for _, k := range f.Countries {
		keys[k] = true
	}
	for _, k := range f.DataVolume {
		keys[k] = true
	}
	return keys
}

// PackageFromRecord converts a catalogue record. Missing fields stay zero;
// fields outside f are copied into Extra.
func PackageFromRecord(r view.Record, f Fields) Package {
	p := Package{
		ID:       r.ID(),
		Name:     r.String("name"),
		Region:   r.String(f.Region),
		Validity: r.String(f.Validity),
	}
	for _, field := range f.DataVolume {
		if v := r.String(field); v != "" {
			p.DataVolume = v
			break
		}
	}
	if n, ok := r.Number(f.Price); ok {
		p.Price = n
	} else if parsed, err := strconv.ParseFloat(strings.TrimSpace(r.String(f.Price)), 64); err == nil {
		p.Price = parsed
	}
	for _, field := range f.Countries {
		v, ok := r.Value(field)
		if !ok {
			continue
		}
		p.Countries = countryList(v)
		if len(p.Countries) > 0 {
			break
		}
	}
	read := f.read()
	for k, v := range r {
		if read[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return p
}

// PackagesFromRecords converts every record with DefaultFields.
func PackagesFromRecords(records []view.Record) []Package {
	out := make([]Package, 0, len(records))
	for _, r := range records {
		out = append(out, PackageFromRecord(r, DefaultFields))
	}
	return out
}

func countryList(v any) []string {
	switch val := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			switch c := item.(type) {
			case string:
				out = append(out, c)
			case map[string]any:
				rec := view.Record(c)
				for _, key := range []string{"name", "country", "code"} {
					if s := rec.String(key); s != "" {
						out = append(out, s)
						break
					}
				}
			}
		}
		return out
	}
	return nil
}
