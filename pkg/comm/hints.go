package comm

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"commesh/pkg/info"
)

// HintType declares how a hint value is parsed and coerced.
type HintType int

const (
	HintBool HintType = iota
	HintInt
)

// Hint consistency attributes. Default (0) requires the value to be
// identical across every rank of the communicator; that agreement is
// enforced by an external collective check, not here. HintLocal values are
// free to differ per rank.
const HintLocal = 0x1

// HintFn is an optional validator/side-effect hook. When registered, it is
// entirely responsible for validating the parsed value and storing it (via
// StoreHint) along with any side effects; the registry does not touch the
// hint array itself.
type HintFn func(c *Comm, index int, val int) error

const maxHints = 100

// Predefined hint indices; index 0 is reserved invalid.
const (
	HintInvalid = iota
	HintNoAnyTag
	HintNoAnySource
	HintExactLength
	HintAllowOvertaking
	hintPredefinedCount
)

var (
	// ErrHintRegistryFull is returned when the bounded table overflows.
	ErrHintRegistryFull = errors.New("comm: hint registry full")
	// ErrHintDuplicate is returned when a key is registered twice.
	ErrHintDuplicate = errors.New("comm: hint key already registered")
	// ErrHintUnknown is returned when a key resolves to no index.
	ErrHintUnknown = errors.New("comm: unknown hint key")
	// ErrHintValue is returned for values that fail type coercion.
	ErrHintValue = errors.New("comm: bad hint value")
)

type hintDef struct {
	key  string
	typ  HintType
	attr int
	def  int
	fn   HintFn
}

// hintRegistry is the process-wide (runtime-owned) append-only hint table.
// The dense index into defs doubles as the index into every communicator's
// fixed hint-value array, giving constant-time access on hot paths.
type hintRegistry struct {
	mu    sync.RWMutex
	defs  []hintDef
	byKey map[string]int
}

func newHintRegistry() *hintRegistry {
	return &hintRegistry{
		defs:  make([]hintDef, 1, hintPredefinedCount), // index 0 reserved
		byKey: make(map[string]int),
	}
}

func (r *hintRegistry) register(key string, fn HintFn, typ HintType, attr, def int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; ok {
		return 0, fmt.Errorf("%w: %q", ErrHintDuplicate, key)
	}
	if len(r.defs) >= maxHints {
		return 0, ErrHintRegistryFull
	}
	idx := len(r.defs)
	r.defs = append(r.defs, hintDef{key: key, typ: typ, attr: attr, def: def, fn: fn})
	r.byKey[key] = idx
	return idx, nil
}

func (r *hintRegistry) lookup(key string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byKey[key]
	return idx, ok
}

func (r *hintRegistry) def(idx int) (hintDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx <= 0 || idx >= len(r.defs) {
		return hintDef{}, false
	}
	return r.defs[idx], true
}

// seedDefaults writes every registered default into a fresh communicator's
// value array.
func (r *hintRegistry) seedDefaults(vals *[maxHints]int32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 1; i < len(r.defs); i++ {
		vals[i] = int32(r.defs[i].def)
	}
}

func (r *hintRegistry) snapshot() []hintDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]hintDef(nil), r.defs[1:]...)
}

func (rt *Runtime) registerPredefinedHints() error {
	predefined := []struct {
		idx  int
		key  string
		typ  HintType
		attr int
		def  int
	}{
		{HintNoAnyTag, "commesh_assert_no_any_tag", HintBool, 0, 0},
		{HintNoAnySource, "commesh_assert_no_any_source", HintBool, 0, 0},
		{HintExactLength, "commesh_assert_exact_length", HintBool, 0, 0},
		{HintAllowOvertaking, "commesh_assert_allow_overtaking", HintBool, 0, 0},
	}
	for _, p := range predefined {
		idx, err := rt.hintDefs.register(p.key, nil, p.typ, p.attr, p.def)
		if err != nil {
			return err
		}
		if idx != p.idx {
			return fmt.Errorf("hint %q registered at %d, want %d", p.key, idx, p.idx)
		}
	}
	return nil
}

// RegisterHint appends a key to the bounded process-wide hint table and
// returns its dense index. Key-to-index resolution happens here, once; hot
// paths then read values by index.
func (rt *Runtime) RegisterHint(key string, fn HintFn, typ HintType, attr, def int) (int, error) {
	return rt.hintDefs.register(key, fn, typ, attr, def)
}

// HintIndex resolves a key to its dense index.
func (rt *Runtime) HintIndex(key string) (int, bool) {
	return rt.hintDefs.lookup(key)
}

// HintValue reads a hint by dense index. Constant time; safe on per-call
// hot paths such as "no wildcard receives allowed" checks.
func (c *Comm) HintValue(index int) int {
	if index <= 0 || index >= maxHints {
		return 0
	}
	return int(c.hints[index])
}

// StoreHint writes a hint value by index without validation. Validator
// functions use it as their storage primitive.
func (c *Comm) StoreHint(index, val int) {
	if index <= 0 || index >= maxHints {
		return
	}
	c.mu.Lock()
	c.hints[index] = int32(val)
	c.mu.Unlock()
}

// SetHint resolves key, parses value by the declared type and stores it.
// When the hint has a registered validator, storage and validation are
// delegated to it entirely; a rejection leaves the communicator unchanged.
func (c *Comm) SetHint(key, value string) error {
	idx, ok := c.rt.hintDefs.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrHintUnknown, key)
	}
	def, _ := c.rt.hintDefs.def(idx)

	val, err := parseHintValue(def.typ, value)
	if err != nil {
		return fmt.Errorf("hint %q: %w", key, err)
	}

	if def.fn != nil {
		if err := def.fn(c, idx, val); err != nil {
			zap.L().Warn("hint rejected by validator",
				zap.String("key", key), zap.String("value", value), zap.Error(err))
			return err
		}
		return nil
	}
	c.StoreHint(idx, val)
	return nil
}

func parseHintValue(typ HintType, value string) (int, error) {
	switch typ {
	case HintBool:
		switch value {
		case "true", "1":
			return 1, nil
		case "false", "0":
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %q is not a boolean", ErrHintValue, value)
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrHintValue, value)
		}
		return n, nil
	}
}

func formatHintValue(typ HintType, val int) string {
	if typ == HintBool {
		if val != 0 {
			return "true"
		}
		return "false"
	}
	return strconv.Itoa(val)
}

// SetHintsFromInfo applies every recognized key of in to the communicator.
// Unrecognized keys are ignored per the info contract.
func (c *Comm) SetHintsFromInfo(in *info.Info) error {
	if in == nil {
		return nil
	}
	for _, key := range in.Keys() {
		if _, ok := c.rt.hintDefs.lookup(key); !ok {
			continue
		}
		v, _ := in.Get(key)
		if err := c.SetHint(key, v); err != nil {
			return err
		}
	}
	return nil
}

// FillInfoFromHints writes every registered hint's current value into in.
func (c *Comm) FillInfoFromHints(in *info.Info) {
	for i, d := range c.rt.hintDefs.snapshot() {
		in.Set(d.key, formatHintValue(d.typ, c.HintValue(i+1)))
	}
}

// CheckHints revalidates the caller's stored values through their
// validators. Cross-rank consistency of non-local hints is the caller's
// responsibility, typically via an external collective compare; a single
// rank cannot detect it.
func (c *Comm) CheckHints() error {
	for i, d := range c.rt.hintDefs.snapshot() {
		if d.fn == nil {
			continue
		}
		if err := d.fn(c, i+1, c.HintValue(i+1)); err != nil {
			return fmt.Errorf("hint %q: %w", d.key, err)
		}
	}
	return nil
}
