// Package invalidation defines the token change events the remote index
// publishes when tokens are minted, updated, or burned elsewhere.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

type Event struct {
	Version int          `json:"version"`
	Op      string       `json:"op"`
	TS      time.Time    `json:"ts"`
	Token   *model.Token `json:"token,omitempty"`
	IDs     []string     `json:"ids,omitempty"`
	Source  string       `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpUpsert:
		if e.Token == nil || strings.TrimSpace(e.Token.ID) == "" {
			return fmt.Errorf("upsert requires token with id")
		}
		if len(e.IDs) > 0 {
			return fmt.Errorf("upsert must not carry ids")
		}
	case OpDelete:
		if len(e.IDs) == 0 {
			return fmt.Errorf("delete requires ids")
		}
		if e.Token != nil {
			return fmt.Errorf("delete must not carry a token")
		}
		for _, id := range e.IDs {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("delete ids must be non-empty")
			}
		}
	default:
		return fmt.Errorf("op must be upsert|delete")
	}
	return nil
}
