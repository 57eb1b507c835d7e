package cveapi

import (
	"strings"
	"testing"
)

func TestExtractIDsDedupesAndMatches(t *testing.T) {
	text := "Researchers disclosed CVE-2024-12345 and later re-confirmed CVE-2024-12345, plus CVE-2023-1234."
	ids := ExtractIDs(text)
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct CVE ids, got %v", ids)
	}
	if ids[0] != "CVE-2024-12345" || ids[1] != "CVE-2023-1234" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestExtractIDsNoMatches(t *testing.T) {
	if ids := ExtractIDs("nothing to see here"); ids != nil {
		t.Fatalf("expected nil, got %v", ids)
	}
}

func TestParseCVERecordPrefersV31OverV30AndV2(t *testing.T) {
	body := []byte(`{
		"containers": {
			"cna": {
				"affected": [{"vendor": "Acme", "product": "Widget"}],
				"metrics": [{"cvssV3_1": {"baseScore": 9.8}, "cvssV3_0": {"baseScore": 7.0}, "cvssV2": {"baseScore": 5.0}}],
				"references": [{"url": "https://acme.example/advisory", "tags": ["vendor-advisory"]}],
				"solutions": [{"value": "Upgrade to 2.0"}]
			}
		}
	}`)
	info, err := parseCVERecord(body, "CVE-2024-0001")
	if err != nil {
		t.Fatalf("parseCVERecord: %v", err)
	}
	if info.BaseScore != 9.8 {
		t.Fatalf("expected CVSS v3.1 score 9.8, got %v", info.BaseScore)
	}
	if info.Vendor != "Acme" || info.AffectedProducts != "Widget" {
		t.Fatalf("unexpected vendor/product: %+v", info)
	}
	if info.VendorURL != "https://acme.example/advisory" {
		t.Fatalf("expected vendor-advisory url, got %q", info.VendorURL)
	}
	if !strings.Contains(info.Solution, "Upgrade to 2.0") {
		t.Fatalf("expected solution text, got %q", info.Solution)
	}
}

func TestParseCVERecordPrefersLaterV31OverEarlierV2Only(t *testing.T) {
	body := []byte(`{
		"containers": {
			"cna": {
				"metrics": [{"cvssV2": {"baseScore": 5.0}}, {"cvssV3_1": {"baseScore": 9.1}}]
			}
		}
	}`)
	info, err := parseCVERecord(body, "CVE-2024-0002")
	if err != nil {
		t.Fatalf("parseCVERecord: %v", err)
	}
	if info.BaseScore != 9.1 {
		t.Fatalf("expected v3.1 score 9.1 from a later metrics entry to win over an earlier v2-only entry, got %v", info.BaseScore)
	}
}

func TestParseCVERecordFallsBackToV2WhenNoV3Anywhere(t *testing.T) {
	body := []byte(`{
		"containers": {
			"cna": {
				"metrics": [{"cvssV2": {"baseScore": 4.0}}, {"cvssV2": {"baseScore": 6.5}}]
			}
		}
	}`)
	info, err := parseCVERecord(body, "CVE-2024-0003")
	if err != nil {
		t.Fatalf("parseCVERecord: %v", err)
	}
	if info.BaseScore != 4.0 {
		t.Fatalf("expected the first v2 score 4.0, got %v", info.BaseScore)
	}
}

func TestParseCVERecordNotFound(t *testing.T) {
	body := []byte(`{"error": "CVE_RECORD_NOT_FOUND"}`)
	_, err := parseCVERecord(body, "CVE-2024-9999")
	if err == nil {
		t.Fatal("expected error for not-found record")
	}
}

func TestFetchRejectsMalformedID(t *testing.T) {
	c := New(nil)
	_, err := c.Fetch(nil, "not-a-cve")
	if err == nil {
		t.Fatal("expected validation error for malformed id")
	}
}
