package tariffs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/common"
	"github.com/octoit/octoit/pkg/coordinator"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
	"golang.org/x/net/html"
)

// DefaultURL is the public price list page.
const DefaultURL = "https://octopusenergy.it/le-nostre-tariffe"

const (
	FuelElectricity = "electricity"
	FuelGas         = "gas"
)

// maxPageSize caps how much of the page is read.
const maxPageSize = 8 << 20

// Source fetches the public tariffs page.
type Source struct {
	url    string
	client *http.Client
	now    func() time.Time

	interval      time.Duration
	retryInterval time.Duration
}

// Configured sets up the Source from flags.
func Configured() *Source {
	s := &Source{
		url:    DefaultURL,
		client: common.HTTPClient(30 * time.Second),
		now:    time.Now,
	}
	url := lflag.String("tariffs-url", DefaultURL, "URL of the public tariffs page")
	interval := lflag.Duration("tariffs-poll-interval", time.Hour, "How often to fetch the public tariffs")
	retry := lflag.Duration("tariffs-retry-interval", 5*time.Minute, "How often to retry fetching the public tariffs after a failure")

	lflag.Do(func() {
		s.url = *url
		s.interval = *interval
		s.retryInterval = *retry
	})
	return s
}

// New returns a Source for the given URL.
func New(url string, client *http.Client) *Source {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	return &Source{
		url:           url,
		client:        client,
		now:           time.Now,
		interval:      time.Hour,
		retryInterval: 5 * time.Minute,
	}
}

// NewCoordinator returns a Coordinator polling the page. initial seeds the
// coordinator with previously stored products and may be nil.
func (s *Source) NewCoordinator(initial *types.PublicProducts) *coordinator.Coordinator[types.PublicProducts] {
	c := coordinator.New(coordinator.Options{
		Name:          "public_tariffs",
		Interval:      s.interval,
		RetryInterval: s.retryInterval,
	}, func(ctx context.Context, prev *types.PublicProducts) (*types.PublicProducts, error) {
		return s.Fetch(ctx)
	})
	if initial != nil {
		c.Seed(initial)
	}
	return c
}

// Fetch downloads and parses the public tariffs page.
func (s *Source) Fetch(ctx context.Context) (*types.PublicProducts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public tariffs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("public tariffs page returned status %d", resp.StatusCode)
	}

	products, err := Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("no products found on public tariffs page")
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched public tariffs", slog.Int("count", len(products)))
	return &types.PublicProducts{Products: products, FetchedAt: s.now()}, nil
}

// Parse extracts the products of the page. The embedded __NEXT_DATA__ JSON
// is preferred, elements with a data-product-code attribute are used when it
// is missing or holds no products.
func Parse(r io.Reader) ([]types.PublicProduct, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public tariffs page: %w", err)
	}

	var nextData string
	var attrProducts []types.PublicProduct
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		if n.Data == "script" && attr(n, "id") == "__NEXT_DATA__" && n.FirstChild != nil {
			nextData = n.FirstChild.Data
			return
		}
		if code := attr(n, "data-product-code"); code != "" {
			attrProducts = append(attrProducts, productFromAttrs(n, code))
		}
	})

	if nextData != "" {
		var v any
		if err := json.Unmarshal([]byte(nextData), &v); err != nil {
			return nil, fmt.Errorf("failed to decode __NEXT_DATA__: %w", err)
		}
		if products := productsFromJSON(v); len(products) > 0 {
			return products, nil
		}
	}
	return dedupe(attrProducts), nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func parseRate(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var n types.Number
	if err := json.Unmarshal([]byte(`"`+s+`"`), &n); err != nil {
		return nil
	}
	return (&n).Ptr()
}

func productFromAttrs(n *html.Node, code string) types.PublicProduct {
	p := types.PublicProduct{
		Code:           code,
		Name:           attr(n, "data-product-name"),
		Description:    attr(n, "data-product-description"),
		Fuel:           normaliseFuel(attr(n, "data-fuel")),
		UnitRate:       parseRate(attr(n, "data-unit-rate")),
		UnitRateF2:     parseRate(attr(n, "data-unit-rate-f2")),
		UnitRateF3:     parseRate(attr(n, "data-unit-rate-f3")),
		UnitRateUnits:  attr(n, "data-unit-rate-units"),
		StandingCharge: parseRate(attr(n, "data-standing-charge")),
		StandingUnits:  attr(n, "data-standing-charge-units"),
		TermsURL:       attr(n, "data-terms-url"),
	}
	if p.Name == "" {
		p.Name = strings.TrimSpace(text(n))
	}
	p.IsTimeOfUse = p.UnitRateF2 != nil || p.UnitRateF3 != nil
	return p
}

func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

func normaliseFuel(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "gas"):
		return FuelGas
	default:
		return FuelElectricity
	}
}

// productsFromJSON collects every object that looks like a product: it has
// a code and at least one consumption charge.
func productsFromJSON(v any) []types.PublicProduct {
	var out []types.PublicProduct
	var visit func(v any)
	visit = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if p, ok := productFromMap(t); ok {
				out = append(out, p)
				return
			}
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				visit(t[k])
			}
		case []any:
			for _, e := range t {
				visit(e)
			}
		}
	}
	visit(v)
	return dedupe(out)
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func rate(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return &v
		case string:
			if r := parseRate(v); r != nil {
				return r
			}
		}
	}
	return nil
}

func productFromMap(m map[string]any) (types.PublicProduct, bool) {
	code := str(m, "code", "productCode")
	if code == "" {
		return types.PublicProduct{}, false
	}
	// rates may be nested in prices or params like the account API
	src := m
	for _, k := range []string{"prices", "params"} {
		if nested, ok := m[k].(map[string]any); ok && rate(nested, "consumptionCharge") != nil {
			src = nested
			break
		}
	}
	unit := rate(src, "consumptionCharge", "unitRate", "price")
	if unit == nil {
		return types.PublicProduct{}, false
	}
	fuel := str(m, "fuelType", "fuel", "__typename")
	p := types.PublicProduct{
		Code:           code,
		Name:           str(m, "displayName", "fullName", "name"),
		Description:    str(m, "description"),
		Fuel:           normaliseFuel(fuel),
		UnitRate:       unit,
		UnitRateF2:     rate(src, "consumptionChargeF2", "unitRateF2"),
		UnitRateF3:     rate(src, "consumptionChargeF3", "unitRateF3"),
		UnitRateUnits:  str(src, "consumptionChargeUnits", "unitRateUnits"),
		StandingCharge: rate(src, "annualStandingCharge", "standingCharge"),
		StandingUnits:  str(src, "annualStandingChargeUnits", "standingChargeUnits"),
		TermsURL:       str(m, "termsAndConditionsUrl", "termsUrl"),
	}
	if p.Name == "" {
		p.Name = code
	}
	productType := strings.ToLower(str(src, "productType"))
	p.IsTimeOfUse = p.UnitRateF2 != nil || p.UnitRateF3 != nil ||
		productType == "time_of_use" || productType == "timeofuse" || productType == "tou"
	return p, true
}

func dedupe(products []types.PublicProduct) []types.PublicProduct {
	seen := make(map[string]bool, len(products))
	out := products[:0]
	for _, p := range products {
		key := p.Fuel + "|" + p.Code
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
