package format

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "jpg", want: JPG},
		{in: "jpeg", want: JPG},
		{in: "JPG", want: JPG},
		{in: "image.jpg", want: JPG},
		{in: "image.JPG", want: JPG},
		{in: "photos/holiday.jpeg", want: JPG},
		{in: "png", want: PNG},
		{in: "webp", want: WEBP},
		{in: "avif", want: AVIF},
		{in: "heic", want: HEIC},
		{in: "heif", want: HEIF},
		{in: "image.bmp", wantErr: true},
		{in: "bmp", wantErr: true},
		{in: "tiff", wantErr: true},
		{in: "cheese", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("Parse(%q): expected ErrUnsupported, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestFromPath(t *testing.T) {
	got, err := FromPath("/tmp/Sample.JPEG")
	if err != nil {
		t.Fatalf("FromPath returned error: %v", err)
	}
	if got != JPG {
		t.Fatalf("expected JPG, got %s", got)
	}

	if _, err := FromPath("/tmp/no-extension"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for missing extension, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	all := All()
	if len(all) != 6 {
		t.Fatalf("expected 6 formats, got %d", len(all))
	}
	want := []Format{JPG, PNG, WEBP, AVIF, HEIC, HEIF}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("catalog order mismatch at %d: expected %s, got %s", i, want[i], all[i])
		}
	}

	all[0] = HEIF
	if All()[0] != JPG {
		t.Fatal("All must return a fresh slice")
	}

	for _, f := range []Format{JPG, PNG, WEBP} {
		if !f.IsNative() {
			t.Fatalf("expected %s to be native", f)
		}
		if f.Params() != (Params{}) {
			t.Fatalf("expected zero params for native %s", f)
		}
	}
	for _, f := range []Format{AVIF, HEIC, HEIF} {
		if f.IsNative() {
			t.Fatalf("expected %s to be non-native", f)
		}
		if f.Params().Quality != 85 {
			t.Fatalf("expected quality 85 for %s, got %d", f, f.Params().Quality)
		}
	}

	if JPG.String() != "JPG" {
		t.Fatalf("expected JPG display name, got %q", JPG.String())
	}
	if JPG.Extension() != "jpg" {
		t.Fatalf("expected jpg extension, got %q", JPG.Extension())
	}
	if Format(42).Valid() || Format(42).IsNative() {
		t.Fatal("out-of-range format must be invalid")
	}
}

func TestTextEncoding(t *testing.T) {
	var payload struct {
		Format Format `json:"format"`
	}
	if err := json.Unmarshal([]byte(`{"format":"JPEG"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Format != JPG {
		t.Fatalf("expected JPG, got %s", payload.Format)
	}

	payload.Format = AVIF
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(body) != `{"format":"avif"}` {
		t.Fatalf("unexpected JSON %s", body)
	}

	if err := json.Unmarshal([]byte(`{"format":"gif"}`), &payload); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
