// Package cveapi fetches CVE enrichment metadata from the MITRE CVE
// Services API: CVSS v3.1 > v3.0 > v2 score preference, the
// vendor-advisory reference tag, and CNA container parsing.
package cveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/apperr"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/httpx"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// IDPattern matches a CVE identifier.
var IDPattern = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)

// ExtractIDs returns every distinct CVE id found in text.
func ExtractIDs(text string) []string {
	matches := IDPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Client fetches CVE records from the MITRE CVE Services API.
type Client struct {
	http *httpx.Client
}

// New builds a Client using the given HTTP client.
func New(http *httpx.Client) *Client {
	return &Client{http: http}
}

type cveRecord struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Containers struct {
		CNA struct {
			Affected []struct {
				Vendor  string `json:"vendor"`
				Product string `json:"product"`
			} `json:"affected"`
			Metrics []cvssMetric `json:"metrics"`
			References []struct {
				URL  string   `json:"url"`
				Tags []string `json:"tags"`
			} `json:"references"`
			Solutions []struct {
				Value string `json:"value"`
			} `json:"solutions"`
		} `json:"cna"`
	} `json:"containers"`
}

type cvssMetric struct {
	CVSSV31 *struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssV3_1"`
	CVSSV30 *struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssV3_0"`
	CVSSV2 *struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssV2"`
}

// bestBaseScore scans every metrics entry for a CVSS v3.1 score, then
// every entry for a v3.0 score, and only if neither exists anywhere
// falls back to a full scan for a v2 score. An entry carrying a lower-
// preference version must not win over a higher-preference score
// reported elsewhere in the list.
func bestBaseScore(metrics []cvssMetric) float64 {
	for _, m := range metrics {
		if m.CVSSV31 != nil {
			return m.CVSSV31.BaseScore
		}
	}
	for _, m := range metrics {
		if m.CVSSV30 != nil {
			return m.CVSSV30.BaseScore
		}
	}
	for _, m := range metrics {
		if m.CVSSV2 != nil {
			return m.CVSSV2.BaseScore
		}
	}
	return 0
}

// Fetch retrieves and parses CVE metadata for id, returning
// apperr.ErrValidation if the id is malformed and apperr.ErrTransient
// if the underlying HTTP call failed after retries.
func (c *Client) Fetch(ctx context.Context, id string) (model.CVEInfo, error) {
	if !IDPattern.MatchString(id) {
		return model.CVEInfo{}, apperr.Validation("cve_id", "does not match CVE-YYYY-NNNN+ pattern")
	}

	url := fmt.Sprintf("https://cveawg.mitre.org/api/cve/%s", id)
	body, _, err := c.http.Get(ctx, url)
	if err != nil {
		return model.CVEInfo{}, fmt.Errorf("fetching %s: %w", id, err)
	}
	return parseCVERecord(body, id)
}

func parseCVERecord(body []byte, id string) (model.CVEInfo, error) {
	var rec cveRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return model.CVEInfo{}, apperr.Validation("cve_response", "not valid JSON")
	}
	if rec.Error == "CVE_RECORD_NOT_FOUND" || rec.Message == "CVE not found" {
		return model.CVEInfo{}, fmt.Errorf("%s: %w", id, apperr.ErrValidation)
	}

	cna := rec.Containers.CNA

	vendors := uniqueSorted(func(yield func(string)) {
		for _, a := range cna.Affected {
			if a.Vendor != "" {
				yield(a.Vendor)
			}
		}
	})
	products := uniqueSorted(func(yield func(string)) {
		for _, a := range cna.Affected {
			if a.Product != "" {
				yield(a.Product)
			}
		}
	})

	baseScore := bestBaseScore(cna.Metrics)

	var vendorLink string
	for _, ref := range cna.References {
		if containsTag(ref.Tags, "vendor-advisory") {
			vendorLink = ref.URL
			break
		}
	}

	var solutionParts []string
	for _, sol := range cna.Solutions {
		if sol.Value != "" {
			solutionParts = append(solutionParts, sol.Value)
		}
	}

	rawJSON, _ := json.Marshal(rec)

	return model.CVEInfo{
		CVEID:            id,
		BaseScore:        baseScore,
		Vendor:           strings.Join(vendors, ", "),
		AffectedProducts: strings.Join(products, ", "),
		VendorURL:        vendorLink,
		Solution:         strings.Join(solutionParts, "\n\n"),
		RawJSON:          string(rawJSON),
	}, nil
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func uniqueSorted(each func(yield func(string))) []string {
	seen := make(map[string]bool)
	var out []string
	each(func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	})
	sort.Strings(out)
	return out
}
