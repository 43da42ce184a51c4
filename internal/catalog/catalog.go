// Package catalog resolves a free-text offer and a connection count to a payment link and a price.
//
// The table is loaded once at startup and is read-only afterwards, so a Catalog may be shared
// between goroutines without locking.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultSeats is the seat count used when the connection text cannot be parsed.
const DefaultSeats = 1

//go:embed catalog.yaml
var defaultTable []byte

var (
	ErrNoPlans          = errors.New("catalog has no plans")
	ErrEmptyPlanKey     = errors.New("plan key cannot be empty")
	ErrDuplicatePlan    = errors.New("duplicate plan key")
	ErrMissingSeatOne   = errors.New("plan has no entry for one seat")
	ErrUnknownFallback  = errors.New("fallback plan is not defined")
	ErrInvalidSeatCount = errors.New("seat count must be positive")
)

// Entry is the payment link and price for one plan and seat count.
type Entry struct {
	Link  string          `yaml:"link"`
	Price decimal.Decimal `yaml:"price"`
}

// Plan is a catalog plan matched by substring against the offer text.
type Plan struct {
	Key   string        `yaml:"key"`
	Seats map[int]Entry `yaml:"seats"`
}

type table struct {
	Version      int    `yaml:"version"`
	FallbackPlan string `yaml:"fallback_plan"`
	Plans        []Plan `yaml:"plans"`
}

// Catalog maps (offer, connections) pairs to payment links and prices.
type Catalog struct {
	version  int
	plans    []Plan
	fallback Plan
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(t.Plans) == 0 {
		return nil, ErrNoPlans
	}

	c := &Catalog{version: t.Version}
	seen := make(map[string]bool, len(t.Plans))
	var fallbackFound bool
	for _, p := range t.Plans {
		p.Key = strings.ToLower(strings.TrimSpace(p.Key))
		if p.Key == "" {
			return nil, ErrEmptyPlanKey
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePlan, p.Key)
		}
		seen[p.Key] = true
		for seats := range p.Seats {
			if seats <= 0 {
				return nil, fmt.Errorf("%w: plan %q has seat count %d", ErrInvalidSeatCount, p.Key, seats)
			}
		}
		if _, ok := p.Seats[DefaultSeats]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingSeatOne, p.Key)
		}
		if p.Key == strings.ToLower(t.FallbackPlan) {
			c.fallback = p
			fallbackFound = true
		}
		c.plans = append(c.plans, p)
	}
	if !fallbackFound {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFallback, t.FallbackPlan)
	}

	slog.Debug("Catalog loaded", "version", c.version, "plans", len(c.plans), "fallback", c.fallback.Key)
	return c, nil
}

// Version returns the version number declared by the catalog data.
func (c *Catalog) Version() int {
	return c.version
}

// Link returns the payment link for the offer and connection count.
// An unknown offer resolves to the fallback plan's one-seat link.
func (c *Catalog) Link(offerText, connectionsText string) string {
	plan, ok := c.match(offerText)
	if !ok {
		return c.fallback.Seats[DefaultSeats].Link
	}
	return plan.entry(ParseSeats(connectionsText)).Link
}

// Price returns the price for the offer and connection count.
// An unknown offer resolves to zero, unlike Link.
func (c *Catalog) Price(offerText, connectionsText string) decimal.Decimal {
	plan, ok := c.match(offerText)
	if !ok {
		return decimal.Zero
	}
	return plan.entry(ParseSeats(connectionsText)).Price
}

// Resolve returns both the link and the price.
func (c *Catalog) Resolve(offerText, connectionsText string) (string, decimal.Decimal) {
	return c.Link(offerText, connectionsText), c.Price(offerText, connectionsText)
}

// match returns the first plan, in table order, whose key appears in the offer text
// either verbatim or with its first space removed ("12 mois" also matches "12mois").
func (c *Catalog) match(offerText string) (Plan, bool) {
	offer := strings.ToLower(offerText)
	for _, p := range c.plans {
		if strings.Contains(offer, p.Key) || strings.Contains(offer, strings.Replace(p.Key, " ", "", 1)) {
			return p, true
		}
	}
	return Plan{}, false
}

func (p Plan) entry(seats int) Entry {
	if e, ok := p.Seats[seats]; ok {
		return e
	}
	return p.Seats[DefaultSeats]
}

// ParseSeats reads the leading integer of the connection text ("2", "2 connexions").
// Missing, unparsable or non-positive values yield DefaultSeats.
func ParseSeats(connectionsText string) int {
	s := strings.TrimSpace(connectionsText)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && unicode.IsDigit(rune(s[end])) {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return DefaultSeats
	}
	return n
}
