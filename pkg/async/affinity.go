package async

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

var (
	// ErrAffinityParse marks a malformed or negative logical-processor id.
	ErrAffinityParse = errors.New("async: malformed affinity entry")
	// ErrAffinityCount marks a specification with fewer ids than thread
	// slots.
	ErrAffinityCount = errors.New("async: affinity count mismatch")
)

// threadAffinity returns one logical-processor id per thread slot. An empty
// specification synthesizes a default; anything else must parse fully.
func threadAffinity(spec string, slots int) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return defaultAffinity(slots, runtime.NumCPU()), nil
	}
	return parseAffinity(spec, slots)
}

// parseAffinity reads slots non-negative ids from a list delimited by
// commas, spaces, tabs or newlines. Surplus entries are ignored; a short
// list, a non-numeric entry or a negative id fails the whole parse.
func parseAffinity(spec string, slots int) ([]int, error) {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) < slots {
		return nil, fmt.Errorf("%w: expected %d processor ids, read %d in %q",
			ErrAffinityCount, slots, len(fields), spec)
	}
	out := make([]int, slots)
	for i := 0; i < slots; i++ {
		id, err := strconv.Atoi(fields[i])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: %q in %q", ErrAffinityParse, fields[i], spec)
		}
		out[i] = id
	}
	return out, nil
}

// defaultAffinity assigns the highest processor ids downward, wrapping when
// fewer processors exist than thread slots. Keeping progress threads away
// from cpu 0 leaves the common application placement alone.
func defaultAffinity(slots, nproc int) []int {
	out := make([]int, slots)
	for i := 0; i < slots; i++ {
		if i < nproc {
			out[i] = nproc - i - 1
		} else {
			out[i] = out[i%nproc]
		}
	}
	return out
}
