package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

const SubscriptionSequence = "subscription"

// CodeGenerator formats values of a store-side counter as <prefix><zero-padded n>.
// Uniqueness comes from the counter alone: nothing here reads the latest code
// and adds one.
type CodeGenerator struct {
	seq     ports.CodeSequence
	name    string
	prefix  string
	width   int
	metrics ports.Metrics
}

func NewCodeGenerator(seq ports.CodeSequence, name, prefix string, width int, metrics ports.Metrics) (*CodeGenerator, error) {
	if name == "" || prefix == "" || width <= 0 {
		return nil, fmt.Errorf("%w: code generator needs a sequence name, prefix and width", domain.ErrInvalidInput)
	}
	return &CodeGenerator{seq: seq, name: name, prefix: prefix, width: width, metrics: metrics}, nil
}

// Next allocates a fresh code. Store failures keep domain.ErrUnavailable in the chain.
func (g *CodeGenerator) Next(ctx context.Context) (string, error) {
	n, err := g.seq.Next(ctx, g.name)
	if err != nil {
		return "", fmt.Errorf("allocate %s code: %w", g.name, err)
	}
	g.metrics.CodeIssued()
	return g.Format(n), nil
}

// LastIssued reports the most recent code without allocating one.
func (g *CodeGenerator) LastIssued(ctx context.Context) (string, error) {
	n, err := g.seq.Current(ctx, g.name)
	if err != nil {
		return "", err
	}
	return g.Format(n), nil
}

func (g *CodeGenerator) Format(n int64) string {
	return fmt.Sprintf("%s%0*d", g.prefix, g.width, n)
}

func (g *CodeGenerator) Parse(code string) (int64, error) {
	digits, ok := strings.CutPrefix(code, g.prefix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: code %q does not start with %q", domain.ErrInvalidInput, code, g.prefix)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: code %q has a non-numeric suffix", domain.ErrInvalidInput, code)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: code %q is out of range", domain.ErrInvalidInput, code)
	}
	return n, nil
}

// Reconcile raises the counter to the highest code already stored, so data
// written before the counter existed is never handed out twice.
func (g *CodeGenerator) Reconcile(ctx context.Context, subs ports.SubscriptionRepository) (int64, error) {
	code, err := subs.HighestCode(ctx, g.prefix)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read highest code: %w", err)
	}
	n, err := g.Parse(code)
	if err != nil {
		return 0, err
	}
	if err := g.seq.EnsureAtLeast(ctx, g.name, n); err != nil {
		return 0, fmt.Errorf("raise %s counter: %w", g.name, err)
	}
	return n, nil
}
