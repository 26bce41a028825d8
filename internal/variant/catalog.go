package variant

import (
	"context"
	"fmt"
	"sort"

	"github.com/firdavs625/groupquiz/internal/domain"
)

const (
	defaultVariantCount        = 10
	defaultQuestionsPerVariant = 10
)

// Catalog is a static variant provider. Question content is owned by another
// service; the catalog only knows identities, names and sizes.
type Catalog struct {
	variants map[int]domain.Variant
}

// NewCatalog builds a catalog from configured variants. Without any, it
// generates "Variant 1".."Variant 10" with 10 questions each.
func NewCatalog(vs []domain.Variant) (*Catalog, error) {
	if len(vs) == 0 {
		vs = generate(defaultVariantCount, defaultQuestionsPerVariant)
	}

	c := &Catalog{variants: make(map[int]domain.Variant, len(vs))}
	for _, v := range vs {
		if v.ID <= 0 {
			return nil, fmt.Errorf("variant %q: id must be positive", v.Name)
		}
		if _, ok := c.variants[v.ID]; ok {
			return nil, fmt.Errorf("variant %d: duplicate id", v.ID)
		}
		if v.QuestionCount <= 0 {
			v.QuestionCount = defaultQuestionsPerVariant
		}
		if v.Name == "" {
			v.Name = fmt.Sprintf("Variant %d", v.ID)
		}
		c.variants[v.ID] = v
	}

	return c, nil
}

// GetVariantByID returns the variant or nil when it does not exist.
func (c *Catalog) GetVariantByID(_ context.Context, id int) (*domain.Variant, error) {
	v, ok := c.variants[id]
	if !ok {
		return nil, nil
	}

	return &v, nil
}

func (c *Catalog) ListVariants(_ context.Context) ([]domain.Variant, error) {
	vs := make([]domain.Variant, 0, len(c.variants))
	for _, v := range c.variants {
		vs = append(vs, v)
	}

	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	return vs, nil
}

func generate(n, questions int) []domain.Variant {
	vs := make([]domain.Variant, 0, n)
	for i := 1; i <= n; i++ {
		vs = append(vs, domain.Variant{
			ID:            i,
			Name:          fmt.Sprintf("Variant %d", i),
			QuestionCount: questions,
		})
	}
	return vs
}
