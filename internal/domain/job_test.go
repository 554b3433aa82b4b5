package domain

import "testing"

func TestJobValidate(t *testing.T) {
	valid := Job{
		ID:        "job-1",
		ColorMode: ColorModeMonochrome,
		Items:     []JobItem{{ObjectKey: "uploads/job-1/0"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid job, got error: %v", err)
	}

	if err := (Job{}).Validate(); err == nil {
		t.Fatal("expected validation error for empty job")
	}

	noItems := valid
	noItems.Items = nil
	if err := noItems.Validate(); err == nil {
		t.Fatal("expected validation error for job without files")
	}

	badMode := valid
	badMode.ColorMode = "sepia"
	if err := badMode.Validate(); err == nil {
		t.Fatal("expected validation error for unknown color mode")
	}

	badWebhook := valid
	badWebhook.WebhookURL = "ftp://example.com/hook"
	if err := badWebhook.Validate(); err == nil {
		t.Fatal("expected validation error for non-http webhook")
	}

	missingKey := valid
	missingKey.Items = []JobItem{{FieldName: "file"}}
	if err := missingKey.Validate(); err == nil {
		t.Fatal("expected validation error for item without object key")
	}
}

func TestParseColorMode(t *testing.T) {
	cases := map[string]ColorMode{
		"color":           ColorModeColor,
		"COLOR":           ColorModeColor,
		"black-and-white": ColorModeMonochrome,
		" monochrome ":    ColorModeMonochrome,
	}
	for in, want := range cases {
		got, err := ParseColorMode(in)
		if err != nil {
			t.Fatalf("ParseColorMode(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseColorMode(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseColorMode("grayscale"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNewBatchResponseNeverNilFiles(t *testing.T) {
	resp := NewBatchResponse(ColorModeColor, nil)
	if resp.Files == nil {
		t.Fatal("expected empty files slice, got nil")
	}
	if resp.Algorithm != "primitive" {
		t.Fatalf("expected algorithm primitive, got %s", resp.Algorithm)
	}
}
