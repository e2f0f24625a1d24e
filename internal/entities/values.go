package entities

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is a fixed-point amount with five decimals
type Money int64

const moneyScale = 100000

// MoneyFromFloat rounds f to the nearest representable amount
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f * moneyScale))
}

// ParseMoney parses a decimal string such as "12.50" or "-0.00001"
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid money value %q", s)
	}
	if len(frac) > 5 {
		return 0, fmt.Errorf("money value %q has more than 5 decimals", s)
	}
	frac += strings.Repeat("0", 5-len(frac))
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	m := Money(w*moneyScale + f)
	if neg {
		m = -m
	}
	return m, nil
}

// String formats the amount with trailing zero decimals removed
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	out := fmt.Sprintf("%s%d", sign, v/moneyScale)
	if frac := v % moneyScale; frac != 0 {
		out += "." + strings.TrimRight(fmt.Sprintf("%05d", frac), "0")
	}
	return out
}

// Resource is a file or image value. Data is set on input; Blob is set once the
// content has been stored.
type Resource struct {
	MediaType string
	FileName  string
	Data      []byte
	Blob      *BlobRef
}

// Document is a rich document or instance payload kept in the external store
type Document struct {
	ContentType string
	Data        []byte
}

// IntExtLink points either at an internal object handle or at an external URL
type IntExtLink struct {
	Internal string
	External string
	Append   string
}

// Address is a postal address value
type Address struct {
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"nr_detail,omitempty"`
	ZIP         string `json:"zip,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
}

// IsZero reports whether no address field is filled in
func (a Address) IsZero() bool {
	return a == Address{}
}
