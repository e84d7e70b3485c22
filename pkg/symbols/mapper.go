// Package symbols converts between canonical BASE/QUOTE pairs and
// broker-specific instrument references, and parses derivative contract
// identifiers.
package symbols

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Instrument is a backend-specific instrument reference.
type Instrument struct {
	Symbol string `yaml:"symbol"`
	Venue  string `yaml:"venue"`
	Token  string `yaml:"token,omitempty"` // numeric token, brokers that need one
}

// UnmappedError reports a pair that cannot be resolved for a backend.
type UnmappedError struct {
	Pair    string
	Backend string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("no %s mapping for pair %s", e.Backend, e.Pair)
}

// DefaultQuote is assumed when a backend report carries no quote currency.
const DefaultQuote = "INR"

// defaultVenue is used by implicit equity conversion.
const defaultVenue = "NSE"

// smartAPISuffixes are appended to equity symbols on SmartAPI per venue.
// F&O and commodity venues use the bare symbol.
var smartAPISuffixes = map[string]string{
	"NSE": "-EQ",
	"BSE": "-EQ",
	"NFO": "",
	"MCX": "",
}

// defaultMappings covers the index instruments every supported backend
// understands. The SmartAPI tokens are the exchange's static index tokens.
func defaultMappings() map[string]map[string]Instrument {
	return map[string]map[string]Instrument{
		"NIFTY50": {
			"zerodha":  {Symbol: "NIFTY 50", Venue: "NSE"},
			"smartapi": {Symbol: "NIFTY 50", Venue: "NSE", Token: "99926000"},
			"paper":    {Symbol: "NIFTY50", Venue: "NSE"},
		},
		"BANKNIFTY": {
			"zerodha":  {Symbol: "NIFTY BANK", Venue: "NSE"},
			"smartapi": {Symbol: "NIFTY BANK", Venue: "NSE", Token: "99926009"},
			"paper":    {Symbol: "BANKNIFTY", Venue: "NSE"},
		},
		"FINNIFTY": {
			"zerodha":  {Symbol: "NIFTY FIN SERVICE", Venue: "NSE"},
			"smartapi": {Symbol: "NIFTY FIN SERVICE", Venue: "NSE", Token: "99926037"},
			"paper":    {Symbol: "FINNIFTY", Venue: "NSE"},
		},
		"MIDCPNIFTY": {
			"zerodha":  {Symbol: "NIFTY MID SELECT", Venue: "NSE"},
			"smartapi": {Symbol: "NIFTY MID SELECT", Venue: "NSE", Token: "99926074"},
			"paper":    {Symbol: "MIDCPNIFTY", Venue: "NSE"},
		},
	}
}

// Mapper holds the pair↔instrument table and its reverse index.
type Mapper struct {
	mu       sync.RWMutex
	mappings map[string]map[string]Instrument // root -> backend -> instrument
	reverse  map[string]map[string]string     // backend -> backend symbol -> root

	// AllowImplicit enables default conversion for equity pairs absent
	// from the table. When false every unmapped pair is an error.
	AllowImplicit bool
}

// New creates a Mapper seeded with the default index mappings.
func New() *Mapper {
	m := &Mapper{
		mappings:      defaultMappings(),
		AllowImplicit: true,
	}
	m.rebuildReverse()
	return m
}

// Load merges custom mappings from a YAML file shaped as
// root -> backend -> {symbol, venue, token}.
func (m *Mapper) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read symbol map: %w", err)
	}
	var custom map[string]map[string]Instrument
	if err := yaml.Unmarshal(raw, &custom); err != nil {
		return fmt.Errorf("parse symbol map: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for root, backends := range custom {
		if m.mappings[root] == nil {
			m.mappings[root] = make(map[string]Instrument)
		}
		for backend, inst := range backends {
			m.mappings[root][backend] = inst
		}
	}
	m.rebuildReverseLocked()
	log.Printf("symbols: loaded %d custom mappings from %s", len(custom), path)
	return nil
}

// Add inserts or replaces one mapping and rebuilds the reverse index.
func (m *Mapper) Add(root, backend string, inst Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mappings[root] == nil {
		m.mappings[root] = make(map[string]Instrument)
	}
	m.mappings[root][backend] = inst
	m.rebuildReverseLocked()
}

// ToBackend resolves a canonical pair to a backend instrument reference.
func (m *Mapper) ToBackend(pair, backend string) (Instrument, error) {
	base, _, err := SplitPair(pair)
	if err != nil {
		return Instrument{}, &UnmappedError{Pair: pair, Backend: backend}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if backends, ok := m.mappings[base]; ok {
		if inst, ok := backends[backend]; ok {
			if inst.Venue == "" {
				inst.Venue = defaultVenue
			}
			return inst, nil
		}
	}

	if !m.AllowImplicit {
		return Instrument{}, &UnmappedError{Pair: pair, Backend: backend}
	}
	return implicitInstrument(base, backend), nil
}

// implicitInstrument is the default conversion for equities absent from the
// table. Derivatives route to NFO; SmartAPI equities get the venue suffix.
func implicitInstrument(base, backend string) Instrument {
	venue := defaultVenue
	if _, ok := ParseDerivative(base); ok {
		venue = "NFO"
	}
	symbol := base
	if backend == "smartapi" {
		if suffix := smartAPISuffixes[venue]; suffix != "" {
			symbol = base + suffix
		}
	}
	return Instrument{Symbol: symbol, Venue: venue}
}

// FromBackend converts a backend instrument reference back to the canonical
// pair. It is the inverse of ToBackend for every mapped pair.
func (m *Mapper) FromBackend(backend, symbol, venue string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if roots, ok := m.reverse[backend]; ok {
		if root, ok := roots[symbol]; ok {
			return root + "/" + DefaultQuote
		}
	}

	// Strip SmartAPI equity suffixes before falling back to the bare symbol.
	base := symbol
	if backend == "smartapi" {
		for _, suffix := range smartAPISuffixes {
			if suffix != "" && strings.HasSuffix(base, suffix) {
				base = strings.TrimSuffix(base, suffix)
				break
			}
		}
	}
	return base + "/" + DefaultQuote
}

func (m *Mapper) rebuildReverse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildReverseLocked()
}

func (m *Mapper) rebuildReverseLocked() {
	m.reverse = make(map[string]map[string]string)
	for root, backends := range m.mappings {
		for backend, inst := range backends {
			if m.reverse[backend] == nil {
				m.reverse[backend] = make(map[string]string)
			}
			m.reverse[backend][inst.Symbol] = root
		}
	}
}

// SplitPair breaks a canonical pair into base and quote. A missing quote
// defaults to INR; an empty base is an error.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "/", 2)
	base = strings.TrimSpace(parts[0])
	if base == "" {
		return "", "", fmt.Errorf("malformed pair %q", pair)
	}
	quote = DefaultQuote
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		quote = strings.TrimSpace(parts[1])
	}
	return base, quote, nil
}

// OptionType is CALL or PUT.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Derivative is the decomposition of a compact option identifier such as
// NIFTY25DEC24500CE: underlying, expiry token, strike, type code.
type Derivative struct {
	Underlying string
	Strike     float64
	Type       OptionType
	Expiry     string // raw expiry token, e.g. 25DEC24; empty when absent
}

// Grammar: leading alphabetic underlying, expiry token (DDMMM or
// YYYYMMMDD), numeric strike, two-letter type code.
var derivRe = regexp.MustCompile(`^([A-Z]+?)((?:\d{1,2}[A-Z]{3})|(?:\d{4}[A-Z]{3}\d{1,2}))(\d+)(CE|PE)$`)

// ParseDerivative extracts option metadata from a compact identifier such
// as NIFTY25DEC24500CE. Identifiers that do not match the grammar return
// ok=false; that is the normal case for plain equity symbols, not an error.
func ParseDerivative(symbol string) (Derivative, bool) {
	m := derivRe.FindStringSubmatch(symbol)
	if m == nil {
		return Derivative{}, false
	}
	strike, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Derivative{}, false
	}
	typ := OptionCall
	if m[4] == "PE" {
		typ = OptionPut
	}
	return Derivative{
		Underlying: m[1],
		Expiry:     m[2],
		Strike:     strike,
		Type:       typ,
	}, true
}
