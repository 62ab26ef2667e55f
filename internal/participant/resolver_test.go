// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package participant

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/bcem/mailtriage/internal/models"
)

type fakeLookup struct {
	monitored map[string]bool
	calls     map[string]int
	err       error
}

func newFakeLookup(addrs ...string) *fakeLookup {
	f := &fakeLookup{monitored: map[string]bool{}, calls: map[string]int{}}
	for _, a := range addrs {
		f.monitored[a] = true
	}
	return f
}

func (f *fakeLookup) IsMonitored(_ context.Context, _, address string) (bool, error) {
	f.calls[address]++
	if f.err != nil {
		return false, f.err
	}
	return f.monitored[address], nil
}

func TestExtractAddress(t *testing.T) {
	tests := map[string]string{
		"Alice <Alice@Co.com>":        "alice@co.com",
		"  bob@co.com  ":              "bob@co.com",
		`"a <b>" <real@co.com>`:       "real@co.com",
		"":                            "",
		"Broken <unterminated@co.com": "broken <unterminated@co.com",
		"<only@co.com>":               "only@co.com",
	}
	for in, want := range tests {
		if got := ExtractAddress(in); got != want {
			t.Errorf("ExtractAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		monitored []string
		source    string
		dest      []string
		routing   models.Direction
		wantDir   models.Direction
		wantUser  string
		wantKeep  bool
	}{
		{
			name:      "monitored sender is outbound",
			monitored: []string{"emp@co.com"},
			source:    "Emp <emp@co.com>",
			dest:      []string{"x@ext.com"},
			wantDir:   models.DirectionOutbound,
			wantUser:  "emp@co.com",
			wantKeep:  true,
		},
		{
			name:      "inbound picks first monitored recipient in order",
			monitored: []string{"b@co.com", "c@co.com"},
			source:    "x@ext.com",
			dest:      []string{"a@co.com", "C@co.com", "b@co.com"},
			wantDir:   models.DirectionInbound,
			wantUser:  "c@co.com",
			wantKeep:  true,
		},
		{
			name:      "routing overrides heuristic",
			monitored: []string{"emp@co.com", "a@co.com"},
			source:    "emp@co.com",
			dest:      []string{"a@co.com"},
			routing:   models.DirectionInbound,
			wantDir:   models.DirectionInbound,
			wantUser:  "a@co.com",
			wantKeep:  true,
		},
		{
			name:      "inbound without monitored recipient falls back to sender",
			monitored: []string{"emp@co.com"},
			source:    "emp@co.com",
			dest:      []string{"x@ext.com"},
			routing:   models.DirectionInbound,
			wantDir:   models.DirectionInbound,
			wantUser:  "emp@co.com",
			wantKeep:  true,
		},
		{
			name:     "nobody monitored",
			source:   "x@ext.com",
			dest:     []string{"y@ext.com"},
			wantDir:  models.DirectionInbound,
			wantUser: "x@ext.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFakeLookup(tt.monitored...))
			res, err := r.Resolve(context.Background(), "org", tt.source, tt.dest, tt.routing)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Direction != tt.wantDir {
				t.Errorf("Direction = %q, want %q", res.Direction, tt.wantDir)
			}
			if res.UserID != tt.wantUser {
				t.Errorf("UserID = %q, want %q", res.UserID, tt.wantUser)
			}
			if res.Monitored() != tt.wantKeep {
				t.Errorf("Monitored() = %v, want %v", res.Monitored(), tt.wantKeep)
			}
		})
	}
}

func TestResolve_LooksUpEachParticipantOnce(t *testing.T) {
	lookup := newFakeLookup("a@co.com")
	r := NewResolver(lookup)

	res, err := r.Resolve(context.Background(), "org", "x@ext.com",
		[]string{"A@co.com", "a@co.com", "Other <b@co.com>", "b@co.com"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantRecipients := []string{"a@co.com", "b@co.com"}
	if !reflect.DeepEqual(res.Recipients, wantRecipients) {
		t.Errorf("Recipients = %q, want %q", res.Recipients, wantRecipients)
	}
	for addr, n := range lookup.calls {
		if n != 1 {
			t.Errorf("lookup for %s made %d times, want 1", addr, n)
		}
	}
	if len(lookup.calls) != 3 {
		t.Errorf("distinct lookups = %d, want 3", len(lookup.calls))
	}
}

func TestResolve_NoParticipants(t *testing.T) {
	lookup := newFakeLookup()
	res, err := NewResolver(lookup).Resolve(context.Background(), "org", "  ", []string{""}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasParticipants() {
		t.Error("expected no participants")
	}
	if len(lookup.calls) != 0 {
		t.Errorf("expected no lookups, got %d", len(lookup.calls))
	}
}

func TestResolve_LookupError(t *testing.T) {
	lookup := newFakeLookup()
	lookup.err = errors.New("store down")

	_, err := NewResolver(lookup).Resolve(context.Background(), "org", "a@co.com", []string{"b@co.com"}, "")
	if !errors.Is(err, lookup.err) {
		t.Fatalf("err = %v, want wrapped %v", err, lookup.err)
	}
}
