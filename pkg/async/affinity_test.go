package async

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseAffinity(t *testing.T) {
	got, err := parseAffinity("0,1", 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("parse: %v", got)
	}

	// Mixed delimiters, surplus entries ignored.
	got, err = parseAffinity("3 5\n7", 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, []int{3, 5}) {
		t.Fatalf("parse: %v", got)
	}
}

func TestParseAffinityErrors(t *testing.T) {
	if _, err := parseAffinity("0", 2); !errors.Is(err, ErrAffinityCount) {
		t.Fatalf("short list: %v", err)
	}
	if _, err := parseAffinity("x,1", 2); !errors.Is(err, ErrAffinityParse) {
		t.Fatalf("non-numeric: %v", err)
	}
	if _, err := parseAffinity("-1,1", 2); !errors.Is(err, ErrAffinityParse) {
		t.Fatalf("negative id: %v", err)
	}
}

func TestDefaultAffinity(t *testing.T) {
	if got := defaultAffinity(3, 8); !reflect.DeepEqual(got, []int{7, 6, 5}) {
		t.Fatalf("default: %v", got)
	}
	// More slots than processors wraps.
	if got := defaultAffinity(4, 2); !reflect.DeepEqual(got, []int{1, 0, 1, 0}) {
		t.Fatalf("wrapped default: %v", got)
	}
}

func TestThreadAffinityEmptySpec(t *testing.T) {
	got, err := threadAffinity("  ", 2)
	if err != nil {
		t.Fatalf("empty spec: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("empty spec slots: %v", got)
	}
}
