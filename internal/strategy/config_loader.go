package strategy

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pairs-trading-core/internal/stats"
)

// Params configures the pairs strategy.
type Params struct {
	SymbolA string  `yaml:"symbol_a" json:"symbol_a"`
	SymbolB string  `yaml:"symbol_b" json:"symbol_b"`
	Beta    float64 `yaml:"beta" json:"beta"`
	Window  int     `yaml:"window" json:"window"`
	EntryZ  float64 `yaml:"entry_z" json:"entry_z"`
	// ExitZ is carried for configuration and reporting only.
	ExitZ float64 `yaml:"exit_z" json:"exit_z"`
}

// DefaultParams trades BTCUSDT against ETHUSDT.
func DefaultParams() Params {
	return Params{
		SymbolA: "BTCUSDT",
		SymbolB: "ETHUSDT",
		Beta:    0.065,
		Window:  20,
		EntryZ:  2.0,
		ExitZ:   0.5,
	}
}

// Validate reports the first unusable parameter.
func (p Params) Validate() error {
	switch {
	case p.SymbolA == "" || p.SymbolB == "":
		return errors.New("strategy: both symbols are required")
	case p.SymbolA == p.SymbolB:
		return fmt.Errorf("strategy: symbols must differ, got %s twice", p.SymbolA)
	case p.Window <= 0:
		return fmt.Errorf("strategy: window %d: %w", p.Window, stats.ErrInvalidWindow)
	case math.IsNaN(p.Beta) || math.IsInf(p.Beta, 0) || p.Beta <= 0:
		return fmt.Errorf("strategy: beta must be positive and finite, got %v", p.Beta)
	case math.IsNaN(p.EntryZ) || p.EntryZ < 0:
		return fmt.Errorf("strategy: entry_z must be non-negative, got %v", p.EntryZ)
	}
	return nil
}

// ConfigFile is the YAML layout of a pair parameter file.
type ConfigFile struct {
	Pair Params `yaml:"pair"`
}

// LoadParams reads a YAML file and overlays its pair section on base. Fields
// missing from the file keep their base values. Symbols are upper-cased to
// match the feed.
func LoadParams(path string, base Params) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read pair config: %w", err)
	}

	file := ConfigFile{Pair: base}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("parse pair config %s: %w", path, err)
	}
	file.Pair.SymbolA = strings.ToUpper(strings.TrimSpace(file.Pair.SymbolA))
	file.Pair.SymbolB = strings.ToUpper(strings.TrimSpace(file.Pair.SymbolB))
	if err := file.Pair.Validate(); err != nil {
		return base, err
	}
	return file.Pair, nil
}
