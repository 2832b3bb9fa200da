package ingest

import (
	"errors"
	"strings"
	"testing"

	"broadcast/internal/domain"
)

func TestDetectPhoneColumn(t *testing.T) {
	cases := []struct {
		headers []string
		want    int
	}{
		{[]string{"name", "Phone"}, 1},
		{[]string{"name", "Mobile Number"}, 1},
		{[]string{"contact_number", "name"}, 0},
		{[]string{"PHONE_NUMBER"}, 0},
		{[]string{"name", "email"}, 0}, // no match, default first column
		{nil, 0},
	}
	for _, c := range cases {
		if got := DetectPhoneColumn(c.headers); got != c.want {
			t.Errorf("DetectPhoneColumn(%v) = %d, want %d", c.headers, got, c.want)
		}
	}
}

func TestParseFileDedupesAndCollectsErrors(t *testing.T) {
	csvData := "phone\n+14155552671\nnot-a-number\n+14155552671\n"
	res, err := ParseFile(strings.NewReader(csvData), "list.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Numbers) != 1 || res.Numbers[0] != "+14155552671" {
		t.Fatalf("expected single deduped number, got %v", res.Numbers)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one diagnostic, got %v", res.Errors)
	}
	if res.Errors[0].Row != 2 {
		t.Fatalf("expected diagnostic for row 2, got row %d", res.Errors[0].Row)
	}
	if res.Errors[0].Raw != "not-a-number" {
		t.Fatalf("expected raw value in diagnostic, got %q", res.Errors[0].Raw)
	}
}

func TestParseFileHeaderlessFirstRowIsData(t *testing.T) {
	csvData := "+14155552671\n+442071838750\n"
	res, err := ParseFile(strings.NewReader(csvData), "list.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Numbers) != 2 {
		t.Fatalf("expected both rows parsed, got %v", res.Numbers)
	}
}

func TestParseFilePicksPhoneColumn(t *testing.T) {
	csvData := "name,phone number\nalice,+14155552671\nbob,+442071838750\n"
	res, err := ParseFile(strings.NewReader(csvData), "list.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"+14155552671", "+442071838750"}
	if len(res.Numbers) != 2 || res.Numbers[0] != want[0] || res.Numbers[1] != want[1] {
		t.Fatalf("got %v, want %v", res.Numbers, want)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Errors)
	}
}

func TestParseFileShortRowProducesDiagnostic(t *testing.T) {
	csvData := "name,phone\nalice,+14155552671\nbob\n"
	res, err := ParseFile(strings.NewReader(csvData), "list.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Numbers) != 1 {
		t.Fatalf("expected one number, got %v", res.Numbers)
	}
	if len(res.Errors) != 1 || res.Errors[0].Row != 2 {
		t.Fatalf("expected diagnostic for short row 2, got %v", res.Errors)
	}
}

func TestParseFileCorruptCSVIsClientError(t *testing.T) {
	csvData := "phone\n\"unclosed quote\n+14155552671\n"
	_, err := ParseFile(strings.NewReader(csvData), "list.csv")
	if !errors.Is(err, domain.ErrUnreadableFile) {
		t.Fatalf("expected ErrUnreadableFile, got %v", err)
	}
}

func TestParseFileEmptyFileIsClientError(t *testing.T) {
	_, err := ParseFile(strings.NewReader(""), "list.csv")
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnreadableFile) {
		t.Fatalf("empty file must classify as unreadable, got %v", err)
	}
}

func TestParseFileRejectsUnknownExtension(t *testing.T) {
	_, err := ParseFile(strings.NewReader("phone\n+14155552671\n"), "list.pdf")
	if !errors.Is(err, domain.ErrUnsupportedUpload) {
		t.Fatalf("expected ErrUnsupportedUpload, got %v", err)
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+14155552671", "+14155552671", false},
		{" +1 415 555 2671 ", "+14155552671", false},
		{"+15551234", "", true}, // structurally implausible
		{"4155552671", "", true}, // no region, cannot infer country
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeNumber(%q) expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeNumber(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
