package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/units"
)

// amountKeys are event fields holding currency base units.
var amountKeys = map[string]bool{
	"amount":      true,
	"total":       true,
	"value":       true,
	"maxCapacity": true,
}

// Formatter renders events as human-readable messages.
type Formatter struct {
	// Symbol and Decimals describe the settlement currency.
	Symbol   string
	Decimals uint8
	// Names resolves contract addresses to display names. Optional.
	Names func(common.Address) (string, bool)
}

// Event returns the title and body for e.
func (f Formatter) Event(e domain.Event) (string, string) {
	name := shortAddr(e.Contract)
	if f.Names != nil {
		if n, ok := f.Names(e.Contract); ok {
			name = n
		}
	}
	title := fmt.Sprintf("%s | %s", e.Kind, name)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "block %d at %s\n", e.Block, e.Time.UTC().Format("2006-01-02 15:04:05Z"))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, f.value(k, e.Data[k]))
	}
	return title, strings.TrimRight(b.String(), "\n")
}

func (f Formatter) value(key string, v any) string {
	switch val := v.(type) {
	case string:
		if amountKeys[key] {
			return units.FormatString(val, f.Decimals) + " " + f.Symbol
		}
		return val
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			if key == "amountList" {
				s = units.FormatString(s, f.Decimals)
			}
			out[i] = s
		}
		return strings.Join(out, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
