// Package units canonicalizes quantity units and converts between them
// through a per-dimension base scale (kilograms, liters, pieces).
package units

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Scale is the number of decimal places kept after a conversion.
const Scale = 3

type Dimension int

const (
	Count Dimension = iota
	Mass
	Volume
)

func (d Dimension) String() string {
	switch d {
	case Mass:
		return "mass"
	case Volume:
		return "volume"
	default:
		return "count"
	}
}

// Unit is a canonical unit and its factor to the dimension's base unit.
type Unit struct {
	Name      string
	Dimension Dimension
	Factor    decimal.Decimal
}

type definition struct {
	name      string
	dimension Dimension
	factor    string
	aliases   []string
}

var definitions = []definition{
	{"kg", Mass, "1", []string{"kg", "kgs", "kilo", "kilos", "kilogram", "kilograms", "किलो", "केजी"}},
	{"g", Mass, "0.001", []string{"g", "gm", "gms", "gram", "grams", "gramme", "ग्राम"}},
	{"quintal", Mass, "100", []string{"quintal", "quintals", "qtl", "क्विंटल"}},
	{"l", Volume, "1", []string{"l", "lt", "ltr", "ltrs", "litre", "litres", "liter", "liters", "लीटर"}},
	{"ml", Volume, "0.001", []string{"ml", "millilitre", "millilitres", "milliliter", "milliliters", "मिली"}},
	{"pieces", Count, "1", []string{"pieces", "piece", "pcs", "pc", "nos", "pis", "पीस"}},
	{"packets", Count, "1", []string{"packets", "packet", "pkt", "pkts", "pack", "packs", "पैकेट"}},
	{"boxes", Count, "1", []string{"boxes", "box", "dabba", "डब्बा"}},
	{"bottles", Count, "1", []string{"bottles", "bottle", "botal", "बोतल"}},
	{"dozen", Count, "12", []string{"dozen", "dozens", "darjan", "दर्जन"}},
}

var table = buildTable()

func buildTable() map[string]Unit {
	t := make(map[string]Unit)
	for _, def := range definitions {
		u := Unit{Name: def.name, Dimension: def.dimension, Factor: decimal.RequireFromString(def.factor)}
		for _, alias := range def.aliases {
			t[alias] = u
		}
	}
	return t
}

// Lookup reports the canonical unit for a known alias.
func Lookup(alias string) (Unit, bool) {
	u, ok := table[strings.ToLower(strings.TrimSpace(alias))]
	return u, ok
}

// Normalize returns the canonical unit for alias. Unknown aliases are treated
// as count-like units at factor 1 under their own lowercased name.
func Normalize(alias string) Unit {
	if u, ok := Lookup(alias); ok {
		return u
	}
	name := strings.ToLower(strings.TrimSpace(alias))
	if name == "" {
		name = "pieces"
	}
	return Unit{Name: name, Dimension: Count, Factor: decimal.NewFromInt(1)}
}

// Canonical returns the canonical name for alias.
func Canonical(alias string) string {
	return Normalize(alias).Name
}

// ToBase converts qty expressed in alias to the dimension's base scale.
func ToBase(qty decimal.Decimal, alias string) (decimal.Decimal, Dimension) {
	u := Normalize(alias)
	return qty.Mul(u.Factor), u.Dimension
}

// Convert converts qty from one unit to another of the same dimension.
func Convert(qty decimal.Decimal, from, to string) (decimal.Decimal, error) {
	src, dst := Normalize(from), Normalize(to)
	if src.Dimension != dst.Dimension {
		return decimal.Zero, fmt.Errorf("%w: %s (%s) to %s (%s)",
			domain.ErrIncompatibleUnits, src.Name, src.Dimension, dst.Name, dst.Dimension)
	}
	if src.Name == dst.Name {
		return qty, nil
	}
	return qty.Mul(src.Factor).Div(dst.Factor).Round(Scale), nil
}

// Sum adds delta (in deltaUnit) to current (in currentUnit) and returns the
// result expressed in deltaUnit.
func Sum(current decimal.Decimal, currentUnit string, delta decimal.Decimal, deltaUnit string) (decimal.Decimal, error) {
	converted, err := Convert(current, currentUnit, deltaUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return converted.Add(delta).Round(Scale), nil
}
