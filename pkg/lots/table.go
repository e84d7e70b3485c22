// Package lots tracks the minimum tradable unit per instrument root and
// quantizes order sizes to it.
package lots

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"broker-core/pkg/symbols"
)

// Default index lot sizes. Equities default to 1 and are not listed.
var defaultLotSizes = map[string]int{
	"NIFTY":      25,
	"NIFTY50":    25,
	"BANKNIFTY":  15,
	"FINNIFTY":   25,
	"MIDCPNIFTY": 50,
	"NIFTYIT":    25,
	"SENSEX":     10,
	"BANKEX":     15,
}

// ReloadError reports a failed table refresh. The previous table contents
// are untouched when it is returned.
type ReloadError struct {
	Source string
	Err    error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload lot sizes from %s: %v", e.Source, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

// Table maps instrument roots to lot sizes.
type Table struct {
	mu    sync.RWMutex
	sizes map[string]int
}

// NewTable creates a Table seeded with the default index lot sizes.
func NewTable() *Table {
	sizes := make(map[string]int, len(defaultLotSizes))
	for k, v := range defaultLotSizes {
		sizes[k] = v
	}
	return &Table{sizes: sizes}
}

// LotSize returns the minimum tradable unit for a pair. Derivative
// identifiers resolve through their underlying; unknown instruments
// default to 1.
func (t *Table) LotSize(pair string) int {
	root := underlying(pair)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if size, ok := t.sizes[root]; ok {
		return size
	}
	return 1
}

// Quantize rounds raw down to the nearest multiple of the pair's lot size.
// It returns 0 when raw is below one lot; callers must treat 0 as
// "insufficient size, do not place the order".
func (t *Table) Quantize(pair string, raw float64) int {
	size := t.LotSize(pair)
	if raw < float64(size) {
		return 0
	}
	lotCount := int(raw / float64(size))
	return lotCount * size
}

// Validate reports whether quantity is a positive exact multiple of the
// pair's lot size.
func (t *Table) Validate(pair string, quantity int) bool {
	size := t.LotSize(pair)
	return quantity > 0 && quantity%size == 0
}

// Set records the lot size for one instrument root.
func (t *Table) Set(root string, size int) error {
	if size <= 0 {
		return fmt.Errorf("lot size for %s must be positive, got %d", root, size)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sizes[root] = size
	return nil
}

// Update merges a batch of lot sizes; non-positive entries are skipped.
func (t *Table) Update(sizes map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for root, size := range sizes {
		if size > 0 {
			t.sizes[root] = size
		}
	}
}

// ReloadFromCSV replaces derivative lot sizes from an instrument-master CSV
// with symbol and lot_size columns (header names case-insensitive). Any
// open or parse failure leaves the current table untouched.
func (t *Table) ReloadFromCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ReloadError{Source: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return &ReloadError{Source: path, Err: err}
	}
	symCol, sizeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "symbol":
			symCol = i
		case "lot_size", "lotsize":
			sizeCol = i
		}
	}
	if symCol < 0 || sizeCol < 0 {
		return &ReloadError{Source: path, Err: fmt.Errorf("missing symbol/lot_size columns in header %v", header)}
	}

	records, err := r.ReadAll()
	if err != nil {
		return &ReloadError{Source: path, Err: err}
	}
	parsed := make(map[string]int, len(records))
	for _, rec := range records {
		if symCol >= len(rec) || sizeCol >= len(rec) {
			continue
		}
		root := strings.TrimSpace(rec[symCol])
		size, err := strconv.Atoi(strings.TrimSpace(rec[sizeCol]))
		if root == "" || err != nil || size <= 0 {
			continue
		}
		parsed[root] = size
	}
	if len(parsed) == 0 {
		return &ReloadError{Source: path, Err: fmt.Errorf("no usable rows")}
	}

	t.Update(parsed)
	log.Printf("lots: reloaded %d lot sizes from %s", len(parsed), path)
	return nil
}

// Snapshot returns a copy of the current table.
func (t *Table) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.sizes))
	for k, v := range t.sizes {
		out[k] = v
	}
	return out
}

// underlying reduces a pair to its instrument root: quote stripped, option
// identifiers resolved to their underlying, futures to their prefix.
func underlying(pair string) string {
	base := pair
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, "-EQ")
	if d, ok := symbols.ParseDerivative(base); ok {
		return d.Underlying
	}
	if m := futRe.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	return base
}

var futRe = regexp.MustCompile(`^([A-Z]+?)(?:\d{1,2}[A-Z]{3}|\d{4}[A-Z]{3}\d{1,2})?FUT$`)
