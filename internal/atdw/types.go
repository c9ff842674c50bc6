// Package atdw collects the data snapshot behind "why was this ATDW
// product (not) imported?" questions. The collector reports pure facts
// step by step; interpreting them is the generator's job.
package atdw

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is one row of the import ledger, as synced from ATDW.
type Record struct {
	ID          int64
	ProductID   string
	ProductName string
	Category    string
	Status      string
	Imported    bool
	EntryID     *int64
	Reason      string
	Payload     string
	LastUpdated time.Time
}

// Stats summarises the import ledger when no record matches.
type Stats struct {
	Total       int
	Imported    int
	ByStatus    map[string]int
	LastUpdated *time.Time
}

// RegionCategory is one enabled product-region with its configured
// postcodes.
type RegionCategory struct {
	ID        int64
	Title     string
	Postcodes []string
}

// EntryState reports the website entry linked to an import record.
type EntryState struct {
	Enabled       bool
	TypeID        int64
	TypeHandle    string
	Custom        bool
	ExpiryDate    *time.Time
	CategoryCount int
	ImageCount    int
}

// payload is the slice of the raw ATDW product JSON the collector
// reads. Unknown fields are ignored.
type payload struct {
	Status            string `json:"status"`
	ProductCategoryID string `json:"productCategoryId"`
	Organisation      string `json:"owningOrganisationName"`
	Addresses         []struct {
		City     string `json:"city"`
		Postcode string `json:"postcode"`
	} `json:"addresses"`
	VerticalClassifications []struct {
		ProductTypeID string `json:"productTypeId"`
	} `json:"verticalClassifications"`
}

func parsePayload(raw string) payload {
	var p payload
	if strings.TrimSpace(raw) == "" {
		return p
	}
	// A corrupt payload degrades to an empty one; the trace still
	// reports the ledger columns.
	_ = json.Unmarshal([]byte(raw), &p)
	return p
}

// firstLocation returns the city and postcode of the record's first
// stored address.
func (p payload) firstLocation() (city, postcode string) {
	if len(p.Addresses) == 0 {
		return "", ""
	}
	return strings.TrimSpace(p.Addresses[0].City), strings.TrimSpace(p.Addresses[0].Postcode)
}

func (p payload) classificationTypes() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, vc := range p.VerticalClassifications {
		t := strings.TrimSpace(vc.ProductTypeID)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
