package cyclecount

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"inventory-backend/internal/config"
	"inventory-backend/internal/models"

	"github.com/shopspring/decimal"
)

type SampleParams struct {
	ItemTypes  []models.ItemType // empty means every type
	SampleSize int               // random and abc
	Location   string            // location
	Category   string            // category
	Seed       int64
	ABC        config.ABCConfig
}

// Sample selects catalog entries for a batch. It never returns more entries than
// the filtered pool holds, and the same pool, method and seed give the same result.
func Sample(pool []CatalogEntry, method models.SamplingMethod, p SampleParams) ([]CatalogEntry, error) {
	candidates := filterPool(pool, p.ItemTypes)

	switch method {
	case models.MethodRandom:
		if p.SampleSize <= 0 {
			return nil, ValidationError{Field: "sample_size", Message: "must be greater than 0"}
		}
		rng := rand.New(rand.NewSource(p.Seed))
		return draw(rng, candidates, p.SampleSize), nil

	case models.MethodABC:
		if p.SampleSize <= 0 {
			return nil, ValidationError{Field: "sample_size", Message: "must be greater than 0"}
		}
		return sampleABC(candidates, p), nil

	case models.MethodLocation:
		if strings.TrimSpace(p.Location) == "" {
			return nil, ValidationError{Field: "location", Message: "is required for location sampling"}
		}
		return selectWhere(candidates, func(e CatalogEntry) bool { return sameLabel(e.Location, p.Location) }), nil

	case models.MethodCategory:
		if strings.TrimSpace(p.Category) == "" {
			return nil, ValidationError{Field: "category", Message: "is required for category sampling"}
		}
		return selectWhere(candidates, func(e CatalogEntry) bool { return sameLabel(e.Category, p.Category) }), nil
	}

	return nil, ValidationError{Field: "method", Message: "has invalid value \"" + string(method) + "\""}
}

// filterPool keeps the requested types, drops duplicate refs and orders by ref
// so that the input order of the snapshot never leaks into the sample.
func filterPool(pool []CatalogEntry, types []models.ItemType) []CatalogEntry {
	want := map[models.ItemType]bool{}
	for _, t := range types {
		want[t] = true
	}

	seen := make(map[models.ItemRef]bool, len(pool))
	out := make([]CatalogEntry, 0, len(pool))
	for _, e := range pool {
		if len(want) > 0 && !want[e.Ref.Type] {
			continue
		}
		if seen[e.Ref] {
			continue
		}
		seen[e.Ref] = true
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Less(out[j].Ref) })
	return out
}

// draw picks min(k, len(pool)) entries uniformly without replacement (partial Fisher-Yates).
func draw(rng *rand.Rand, pool []CatalogEntry, k int) []CatalogEntry {
	n := len(pool)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []CatalogEntry{}
	}

	shuffled := make([]CatalogEntry, n)
	copy(shuffled, pool)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:k]
}

func selectWhere(pool []CatalogEntry, keep func(CatalogEntry) bool) []CatalogEntry {
	out := []CatalogEntry{}
	for _, e := range pool {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func sameLabel(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ABCTiers splits the pool by cumulative value share. Entries are ranked by value,
// highest first; an entry is in A while the share of value ranked above it is below
// AThreshold, in B while it is below BThreshold, and in C otherwise.
// A pool with no value at all is entirely C.
func ABCTiers(pool []CatalogEntry, cfg config.ABCConfig) (a, b, c []CatalogEntry) {
	ranked := make([]CatalogEntry, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := ranked[i].Value(), ranked[j].Value()
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return ranked[i].Ref.Less(ranked[j].Ref)
	})

	total := decimal.Zero
	for _, e := range ranked {
		total = total.Add(e.Value())
	}
	if !total.IsPositive() {
		return nil, nil, ranked
	}

	aLimit := decimal.NewFromFloat(cfg.AThreshold)
	bLimit := decimal.NewFromFloat(cfg.BThreshold)
	cumulative := decimal.Zero
	for _, e := range ranked {
		share := cumulative.Div(total)
		switch {
		case share.LessThan(aLimit):
			a = append(a, e)
		case share.LessThan(bLimit):
			b = append(b, e)
		default:
			c = append(c, e)
		}
		cumulative = cumulative.Add(e.Value())
	}
	return a, b, c
}

func sampleABC(pool []CatalogEntry, p SampleParams) []CatalogEntry {
	a, b, c := ABCTiers(pool, p.ABC)
	tiers := [][]CatalogEntry{a, b, c}
	sizes := []int{len(a), len(b), len(c)}

	k := p.SampleSize
	if k > len(pool) {
		k = len(pool)
	}
	quotas := abcQuotas(k, sizes, []float64{p.ABC.WeightA, p.ABC.WeightB, p.ABC.WeightC})

	rng := rand.New(rand.NewSource(p.Seed))
	out := make([]CatalogEntry, 0, k)
	for i, tier := range tiers {
		out = append(out, draw(rng, tier, quotas[i])...)
	}
	return out
}

// abcQuotas splits k across tiers. Tier A is filled first; only the part of k
// beyond tier A is split between B and C by weight. Quota above a tier's size
// spills to the next tier; whatever is still left goes to the highest tier with room.
func abcQuotas(k int, sizes []int, weights []float64) []int {
	if k <= sizes[0] {
		return []int{k, 0, 0}
	}
	rest := largestRemainder(k-sizes[0], weights[1:])
	quotas := []int{sizes[0], rest[0], rest[1]}

	carry := 0
	for i := range quotas {
		quotas[i] += carry
		carry = 0
		if quotas[i] > sizes[i] {
			carry = quotas[i] - sizes[i]
			quotas[i] = sizes[i]
		}
	}
	for i := 0; carry > 0 && i < len(quotas); i++ {
		room := sizes[i] - quotas[i]
		if room > carry {
			room = carry
		}
		quotas[i] += room
		carry -= room
	}
	return quotas
}

// largestRemainder apportions n by weight. Zero total weight splits evenly.
func largestRemainder(n int, weights []float64) []int {
	out := make([]int, len(weights))
	if n <= 0 || len(weights) == 0 {
		return out
	}

	sum := 0.0
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}

	type frac struct {
		idx int
		rem float64
	}
	rems := make([]frac, len(weights))
	assigned := 0
	for i, w := range weights {
		share := float64(n) / float64(len(weights))
		if sum > 0 {
			share = float64(n) * math.Max(w, 0) / sum
		}
		whole := math.Floor(share)
		out[i] = int(whole)
		assigned += out[i]
		rems[i] = frac{idx: i, rem: share - whole}
	}

	sort.SliceStable(rems, func(i, j int) bool { return rems[i].rem > rems[j].rem })
	for i := 0; assigned < n; i++ {
		out[rems[i%len(rems)].idx]++
		assigned++
	}
	return out
}
