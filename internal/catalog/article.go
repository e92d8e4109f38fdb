package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// NewArticle is the validated input of the write path.
type NewArticle struct {
	Title      string
	Content    string
	Popularity int
}

// Validate trims the text fields and clamps popularity to zero.
func (n *NewArticle) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Content = strings.TrimSpace(n.Content)
	if n.Title == "" || n.Content == "" {
		return fmt.Errorf("%w: title and content are required", ErrConstraint)
	}
	if n.Popularity < 0 {
		n.Popularity = 0
	}
	return nil
}

// NormalizePopularity decodes a raw JSON popularity value. Anything that is not
// a non-negative integral number (absent, null, strings, fractions) becomes 0.
func NormalizePopularity(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}
