package remote

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/geoindex"
)

// LoadFallback reads the static dataset substituted when the remote
// index is down. Entries missing cell ids get them derived from their
// coordinates, keeping the derived-never-supplied invariant.
func LoadFallback(path string) ([]*model.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback dataset %q: %w", path, err)
	}

	var wrapper struct {
		Tokens []*model.Token `json:"tokens"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decode fallback dataset %q: %w", path, err)
	}

	out := make([]*model.Token, 0, len(wrapper.Tokens))
	for _, t := range wrapper.Tokens {
		if t == nil || t.ID == "" {
			continue
		}
		if t.Cells[0] == "" {
			cells, cerr := geoindex.CellsForPoint(t.Lat(), t.Lng())
			if cerr != nil {
				return nil, fmt.Errorf("derive cells for fallback token %s: %w", t.ID, cerr)
			}
			t.Cells = cells
		}
		out = append(out, t)
	}
	return out, nil
}
