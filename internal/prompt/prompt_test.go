package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tabwise/internal/models"
)

var (
	testTab      = models.Tab{Title: "Raft paper", URL: "https://raft.github.io"}
	testProjects = []*models.Project{{ID: 7, Name: "Consensus"}, {ID: 9, Name: "Storage"}}
)

func TestNoop(t *testing.T) {
	id, err := Noop{}.Choose(context.Background(), testTab, testProjects)
	if err != nil || id != nil {
		t.Errorf("Noop.Choose() = %v, %v", id, err)
	}
}

func TestTerminal_Choose(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *int64
	}{
		{"declines", "n\n", nil},
		{"blank decline", "\n", nil},
		{"picks second", "y\n2\n", ptr(9)},
		{"picks first", "yes\n1\n", ptr(7)},
		{"out of range", "y\n5\n", nil},
		{"not a number", "y\nabc\n", nil},
		{"skips", "y\n\n", nil},
		{"eof", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewTerminal(strings.NewReader(tt.input), &out, WithTimeout(time.Second))
			got, err := p.Choose(context.Background(), testTab, testProjects)
			if err != nil {
				t.Fatal(err)
			}
			if !sameID(got, tt.want) {
				t.Errorf("Choose() = %v, want %v", deref(got), deref(tt.want))
			}
			if !strings.Contains(out.String(), "Raft paper") {
				t.Errorf("prompt does not show the tab: %q", out.String())
			}
		})
	}
}

func TestTerminal_CreatesProject(t *testing.T) {
	var created string
	create := func(ctx context.Context, name string) (int64, error) {
		created = name
		return 42, nil
	}
	p := NewTerminal(strings.NewReader("y\nn\nDistributed Systems\n"), io.Discard, WithCreate(create))
	got, err := p.Choose(context.Background(), testTab, testProjects)
	if err != nil {
		t.Fatal(err)
	}
	if !sameID(got, ptr(42)) || created != "Distributed Systems" {
		t.Errorf("got %v, created %q", deref(got), created)
	}

	failing := NewTerminal(strings.NewReader("y\nn\nX\n"), io.Discard,
		WithCreate(func(ctx context.Context, name string) (int64, error) { return 0, errors.New("duplicate") }))
	if _, err := failing.Choose(context.Background(), testTab, testProjects); err == nil {
		t.Error("expected create error")
	}
}

func TestTerminal_TimeoutMeansNoChoice(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewTerminal(r, io.Discard, WithTimeout(50*time.Millisecond))

	start := time.Now()
	got, err := p.Choose(context.Background(), testTab, testProjects)
	if err != nil || got != nil {
		t.Fatalf("Choose() = %v, %v", deref(got), err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Choose blocked for %v", elapsed)
	}
}

func TestTerminal_ContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewTerminal(r, io.Discard, WithTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := p.Choose(ctx, testTab, testProjects)
	if err != nil || got != nil {
		t.Errorf("Choose() = %v, %v", deref(got), err)
	}
}

func ptr(v int64) *int64 { return &v }

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
