package aggregator

import "testing"

func TestComputeRouteKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "numeric id",
			input:    "/api/v1/users/123",
			expected: "/api/v:id/users/:id",
		},
		{
			name:     "uuid",
			input:    "/api/users/550e8400-e29b-41d4-a716-446655440000",
			expected: "/api/users/:uuid",
		},
		{
			name:     "long digit run",
			input:    "/api/orders/12345678901",
			expected: "/api/orders/:long",
		},
		{
			name:     "iso date",
			input:    "/api/reports/2024-03-05",
			expected: "/api/reports/:date",
		},
		{
			name:     "non-numeric segments do not collapse",
			input:    "/api/users/alice",
			expected: "/api/users/alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeRouteKey(tt.input); got != tt.expected {
				t.Errorf("ComputeRouteKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestComputeRouteKeyIdempotent(t *testing.T) {
	inputs := []string{
		"/api/v1/users/123/items/456",
		"/api/users/550e8400-e29b-41d4-a716-446655440000",
		"/api/reports/2024-03-05T10:00:00Z",
		"/static/app.js",
	}

	for _, in := range inputs {
		once := ComputeRouteKey(in)
		twice := ComputeRouteKey(once)
		if once != twice {
			t.Errorf("ComputeRouteKey not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestComputeRouteKeyCollapsesSiblingPaths(t *testing.T) {
	a := ComputeRouteKey("/api/v1/users/123/items/456")
	b := ComputeRouteKey("/api/v1/users/999/items/001")
	if a != b {
		t.Errorf("expected sibling paths to collapse: %q != %q", a, b)
	}

	c := ComputeRouteKey("/api/v1/users/123/orders")
	d := ComputeRouteKey("/api/v1/users/123/items")
	if c == d {
		t.Errorf("expected paths differing in non-numeric segments to stay distinct: %q == %q", c, d)
	}
}
