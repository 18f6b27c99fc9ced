package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/promo"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
	bloomFPR   = 0.001
)

// columns of a promo batch, in order. The first row is a header.
var columns = []string{
	"code", "discount_type", "value", "min_purchase", "max_discount",
	"valid_from", "valid_until", "max_uses", "description",
}

// RowError points at an invalid row of a batch.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *RowError) Unwrap() error { return e.Err }

// readBatch decodes a gzip compressed CSV batch.
func readBatch(ctx context.Context, r io.Reader) ([]promo.Rule, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip stream")
	}
	defer func() { _ = gz.Close() }()

	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = len(columns)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, name := range columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, errors.Errorf("column %d is %q, want %q", i+1, header[i], name)
		}
	}

	var rules []promo.Rule
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rules, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		rule, err := parseRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, &RowError{Line: line, Err: err}
		}
		rules = append(rules, rule)
	}
}

// parseRow turns one CSV record into a promo rule.
func parseRow(rec []string) (promo.Rule, error) {
	code := strings.ToUpper(strings.TrimSpace(rec[0]))
	if n := len(code); n < minCodeLen || n > maxCodeLen {
		return promo.Rule{}, errors.Errorf("code %q must be %d to %d characters", code, minCodeLen, maxCodeLen)
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return promo.Rule{}, errors.Errorf("code %q must be alphanumeric", code)
		}
	}

	r := promo.Rule{
		Code:         code,
		DiscountType: pricing.DiscountType(strings.ToLower(strings.TrimSpace(rec[1]))),
		Description:  strings.TrimSpace(rec[8]),
	}

	var err error
	if r.Value, err = decimal.NewFromString(strings.TrimSpace(rec[2])); err != nil {
		return promo.Rule{}, errors.Wrap(err, "value")
	}
	switch r.DiscountType {
	case pricing.DiscountPercent:
		if !r.Value.IsPositive() || r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return promo.Rule{}, errors.Errorf("percent value %s out of range", r.Value)
		}
	case pricing.DiscountAmount:
		if !r.Value.IsPositive() {
			return promo.Rule{}, errors.Errorf("amount value %s must be positive", r.Value)
		}
	default:
		return promo.Rule{}, errors.Errorf("unknown discount type %q", rec[1])
	}

	if r.MinPurchase, err = optDecimal(rec[3]); err != nil {
		return promo.Rule{}, errors.Wrap(err, "min_purchase")
	}
	if v := strings.TrimSpace(rec[4]); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return promo.Rule{}, errors.Wrap(err, "max_discount")
		}
		r.MaxDiscount = decimal.NewNullDecimal(d)
	}
	if r.ValidFrom, err = optTime(rec[5]); err != nil {
		return promo.Rule{}, errors.Wrap(err, "valid_from")
	}
	if r.ValidUntil, err = optTime(rec[6]); err != nil {
		return promo.Rule{}, errors.Wrap(err, "valid_until")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidUntil.After(*r.ValidFrom) {
		return promo.Rule{}, errors.New("valid_until must be after valid_from")
	}
	if v := strings.TrimSpace(rec[7]); v != "" {
		if r.MaxUses, err = strconv.Atoi(v); err != nil || r.MaxUses < 0 {
			return promo.Rule{}, errors.Errorf("max_uses %q must be a non-negative integer", v)
		}
	}
	return r, nil
}

func optDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func optTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Duplicate is a code defined by more than one batch.
type Duplicate struct {
	Code    string
	Batches []int
}

// merge combines batches into one rule per code. A later batch overrides
// an earlier one. Per batch bloom filters narrow the exact cross-batch
// comparison down to candidate codes.
func merge(ctx context.Context, batches [][]promo.Rule) ([]promo.Rule, []Duplicate, error) {
	filters := make([]*bloom.BloomFilter, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			f := bloom.NewWithEstimates(uint(max(len(batch), 1)), bloomFPR)
			for _, r := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				f.AddString(r.Code)
			}
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	masks := make(map[string]uint)
	for i, batch := range batches {
		for _, r := range batch {
			for j, f := range filters {
				if j != i && f.TestString(r.Code) {
					masks[r.Code] |= 1 << uint(i)
					break
				}
			}
		}
	}

	var dups []Duplicate
	for code, mask := range masks {
		if bits.OnesCount(mask) < 2 {
			continue
		}
		d := Duplicate{Code: code}
		for i := range batches {
			if mask&(1<<uint(i)) != 0 {
				d.Batches = append(d.Batches, i)
			}
		}
		dups = append(dups, d)
	}
	slices.SortFunc(dups, func(a, b Duplicate) int { return strings.Compare(a.Code, b.Code) })

	index := make(map[string]int)
	var merged []promo.Rule
	for _, batch := range batches {
		for _, r := range batch {
			if at, ok := index[r.Code]; ok {
				merged[at] = r
				continue
			}
			index[r.Code] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged, dups, nil
}
