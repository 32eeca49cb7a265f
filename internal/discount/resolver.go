package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_ucp/domain"
)

const CodesPath = "$.discounts.codes"

var ErrNotFound = errors.New("discount not found")

// Store looks up discount rules. FindByCode receives a normalized code and
// returns ErrNotFound when it does not exist.
type Store interface {
	FindByCode(ctx context.Context, code string) (Definition, error)
	Automatic(ctx context.Context) ([]Definition, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

type Result struct {
	Discounts *domain.Discounts
	Messages  []domain.Message
}

// Normalize upper-cases and trims codes and drops blanks and repeats, keeping first-seen order.
func Normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Apply replaces the checkout's codes with the submitted set and recomputes applied discounts.
// Unknown or expired codes stay in Codes and produce a recoverable error message.
func (r *Resolver) Apply(ctx context.Context, codes []string, lineItems []domain.LineItem, now time.Time) (Result, error) {
	normalized := Normalize(codes)

	var (
		defs     []Definition
		messages []domain.Message
	)
	for _, code := range normalized {
		def, err := r.store.FindByCode(ctx, code)
		if errors.Is(err, ErrNotFound) {
			messages = append(messages, domain.NewError(
				"discount_code_invalid",
				CodesPath,
				fmt.Sprintf("Discount code '%s' is not valid.", code),
				domain.SeverityRecoverable,
			))
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("find discount %s: %w", code, err)
		}
		if def.Expired(now) {
			messages = append(messages, domain.NewError(
				"discount_code_expired",
				CodesPath,
				fmt.Sprintf("Discount code '%s' has expired.", code),
				domain.SeverityRecoverable,
			))
			continue
		}
		def.Code = code
		def.Automatic = false
		defs = append(defs, def)
	}

	automatic, err := r.store.Automatic(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load automatic discounts: %w", err)
	}
	for _, def := range automatic {
		if def.Expired(now) {
			continue
		}
		def.Code = ""
		def.Automatic = true
		defs = append(defs, def)
	}

	applied := Allocate(defs, lineItems)
	if len(normalized) == 0 && len(applied) == 0 {
		return Result{Messages: messages}, nil
	}
	return Result{
		Discounts: &domain.Discounts{Codes: normalized, Applied: applied},
		Messages:  messages,
	}, nil
}

// MemoryStore is a fixed discount table, handy for tests and local runs.
type MemoryStore struct {
	byCode    map[string]Definition
	automatic []Definition
}

func NewMemoryStore(defs ...Definition) *MemoryStore {
	s := &MemoryStore{byCode: make(map[string]Definition)}
	for _, d := range defs {
		if d.Automatic {
			s.automatic = append(s.automatic, d)
			continue
		}
		s.byCode[strings.ToUpper(d.Code)] = d
	}
	return s
}

func (s *MemoryStore) FindByCode(_ context.Context, code string) (Definition, error) {
	def, ok := s.byCode[code]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

func (s *MemoryStore) Automatic(context.Context) ([]Definition, error) {
	return s.automatic, nil
}
