package lots

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLotSizeDefaults(t *testing.T) {
	table := NewTable()

	tests := []struct {
		pair string
		want int
	}{
		{"NIFTY/INR", 25},
		{"BANKNIFTY/INR", 15},
		{"FINNIFTY/INR", 25},
		{"MIDCPNIFTY/INR", 50},
		{"SENSEX/INR", 10},
		{"BANKEX/INR", 15},
		{"RELIANCE/INR", 1},
		{"UNKNOWN/INR", 1},
	}
	for _, tt := range tests {
		if got := table.LotSize(tt.pair); got != tt.want {
			t.Errorf("LotSize(%s) = %d, want %d", tt.pair, got, tt.want)
		}
	}
}

func TestLotSizeResolvesDerivatives(t *testing.T) {
	table := NewTable()

	tests := []struct {
		pair string
		want int
	}{
		{"NIFTY25DEC24500CE/INR", 25},
		{"BANKNIFTY25DEC50000PE/INR", 15},
		{"MIDCPNIFTY25JAN12000CE/INR", 50},
		{"NIFTY25DECFUT/INR", 25},
		{"BANKNIFTYFUT/INR", 15},
	}
	for _, tt := range tests {
		if got := table.LotSize(tt.pair); got != tt.want {
			t.Errorf("LotSize(%s) = %d, want %d", tt.pair, got, tt.want)
		}
	}
}

func TestQuantize(t *testing.T) {
	table := NewTable()

	tests := []struct {
		pair string
		raw  float64
		want int
	}{
		{"NIFTY/INR", 60, 50},
		{"NIFTY/INR", 25, 25},
		{"NIFTY/INR", 24.9, 0},
		{"NIFTY/INR", 0, 0},
		{"BANKNIFTY/INR", 31, 30},
		{"RELIANCE/INR", 7.8, 7},
	}
	for _, tt := range tests {
		if got := table.Quantize(tt.pair, tt.raw); got != tt.want {
			t.Errorf("Quantize(%s, %v) = %d, want %d", tt.pair, tt.raw, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	table := NewTable()

	tests := []struct {
		pair     string
		quantity int
		want     bool
	}{
		{"NIFTY/INR", 50, true},
		{"NIFTY/INR", 30, false},
		{"NIFTY/INR", 0, false},
		{"NIFTY/INR", -25, false},
		{"RELIANCE/INR", 1, true},
	}
	for _, tt := range tests {
		if got := table.Validate(tt.pair, tt.quantity); got != tt.want {
			t.Errorf("Validate(%s, %d) = %v, want %v", tt.pair, tt.quantity, got, tt.want)
		}
	}
}

func TestSetAndUpdate(t *testing.T) {
	table := NewTable()

	if err := table.Set("NIFTYNXT50", 120); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := table.LotSize("NIFTYNXT50/INR"); got != 120 {
		t.Errorf("LotSize after Set = %d, want 120", got)
	}
	if err := table.Set("BAD", 0); err == nil {
		t.Error("Set with zero size should fail")
	}

	table.Update(map[string]int{"NIFTY": 75, "JUNK": -5})
	if got := table.LotSize("NIFTY/INR"); got != 75 {
		t.Errorf("LotSize after Update = %d, want 75", got)
	}
	if got := table.LotSize("JUNK/INR"); got != 1 {
		t.Errorf("negative Update entry should be skipped, got %d", got)
	}
}

func TestReloadFromCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.csv")
	csv := "symbol,lot_size\nNIFTY,75\nCRUDEOIL,100\nBROKEN,notanumber\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	table := NewTable()
	if err := table.ReloadFromCSV(path); err != nil {
		t.Fatalf("ReloadFromCSV: %v", err)
	}
	if got := table.LotSize("NIFTY/INR"); got != 75 {
		t.Errorf("NIFTY lot size after reload = %d, want 75", got)
	}
	if got := table.LotSize("CRUDEOIL/INR"); got != 100 {
		t.Errorf("CRUDEOIL lot size after reload = %d, want 100", got)
	}
	// Unreadable rows are skipped, untouched entries survive.
	if got := table.LotSize("BANKNIFTY/INR"); got != 15 {
		t.Errorf("BANKNIFTY lot size after reload = %d, want 15", got)
	}
}

func TestReloadFromCSVFailureLeavesTableUntouched(t *testing.T) {
	table := NewTable()

	if err := table.ReloadFromCSV(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatal("reload of missing file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(bad, []byte("foo,bar\nx,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := table.ReloadFromCSV(bad); err == nil {
		t.Fatal("reload without lot_size column should fail")
	}

	if got := table.LotSize("NIFTY/INR"); got != 25 {
		t.Errorf("failed reload must not modify the table, NIFTY = %d", got)
	}
}
