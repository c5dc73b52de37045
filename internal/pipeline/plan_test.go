package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
)

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("", "")
	if err != nil {
		t.Fatalf("ParsePlan returned error: %v", err)
	}
	if !plan.Auto || plan.Geometry != nil {
		t.Fatalf("expected auto plan without geometry, got %+v", plan)
	}

	plan, err = ParsePlan("JPEG", "800x")
	if err != nil {
		t.Fatalf("ParsePlan returned error: %v", err)
	}
	if plan.Auto || plan.Output != format.JPG {
		t.Fatalf("expected explicit JPG, got %+v", plan)
	}
	if plan.Geometry == nil || *plan.Geometry != (geometry.Spec{Width: 800}) {
		t.Fatalf("expected 800x geometry, got %+v", plan.Geometry)
	}
	if plan.String() != "JPG@800x" {
		t.Fatalf("unexpected plan string %q", plan.String())
	}

	if _, err := ParsePlan("cheese", ""); !errors.Is(err, format.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := ParsePlan("", "0x0"); !errors.Is(err, geometry.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	cases := []struct {
		in   string
		f    format.Format
		want string
	}{
		{in: "photos/cat.jpeg", f: format.JPG, want: "photos/cat.jpg"},
		{in: "photos/cat.png", f: format.WEBP, want: "photos/cat.webp"},
		{in: "cat.tar.png", f: format.AVIF, want: "cat.tar.avif"},
		{in: "noext", f: format.PNG, want: "noext.png"},
	}
	for _, tc := range cases {
		if got := OutputPath(tc.in, tc.f); got != tc.want {
			t.Fatalf("OutputPath(%q, %s): expected %q, got %q", tc.in, tc.f, tc.want, got)
		}
	}
}
