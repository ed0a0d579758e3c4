package vl1

import (
	"encoding/json"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1/identity"
	"github.com/vl1proto/vl1-go/vl1err"
)

// RootEntry pairs a trusted root's public identity with the endpoint it is
// reachable at, the minimal shape a node needs to bootstrap (§9: a node
// seeds its peer table and initial paths from its configured roots before
// any WHOIS has resolved anything).
type RootEntry struct {
	Identity *identity.Identity
	Endpoint Endpoint
}

// RootSet is a node's configured list of trusted roots, loaded from
// local.conf (vl1/datadir) the way directory/cache.go loads cached
// authority key certs.
type RootSet struct {
	Entries []RootEntry
}

type rootEntryJSON struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint"`
}

// MarshalJSON renders each entry as its public identity string and endpoint
// string, the same text forms accepted by identity.ParseString and
// vl1.ParseEndpoint.
func (s RootSet) MarshalJSON() ([]byte, error) {
	out := make([]rootEntryJSON, len(s.Entries))
	for i, e := range s.Entries {
		idStr, err := identity.MarshalPublicString(e.Identity)
		if err != nil {
			return nil, fmt.Errorf("vl1: marshal root set: %w", err)
		}
		out[i] = rootEntryJSON{Identity: idStr, Endpoint: e.Endpoint.String()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the text forms produced by MarshalJSON.
func (s *RootSet) UnmarshalJSON(data []byte) error {
	var in []rootEntryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("vl1: unmarshal root set: %w: %w", vl1err.InvalidFormat, err)
	}
	entries := make([]RootEntry, len(in))
	for i, e := range in {
		id, err := identity.ParseString(e.Identity)
		if err != nil {
			return fmt.Errorf("vl1: unmarshal root set: identity %d: %w", i, err)
		}
		ep, err := ParseEndpoint(e.Endpoint)
		if err != nil {
			return fmt.Errorf("vl1: unmarshal root set: endpoint %d: %w", i, err)
		}
		entries[i] = RootEntry{Identity: id, Endpoint: ep}
	}
	s.Entries = entries
	return nil
}
