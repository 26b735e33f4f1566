// Package broker defines the Brokerage port the dispatcher talks to, plus
// two concrete adapters: an in-process paper-trading simulator (paper.go)
// used for local runs and tests, and a resty/websocket-based live adapter
// (live.go) grounded on 0xtitan6-polymarket-mm's exchange client.
package broker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// EncodeDealReference builds the wire-visible deal reference a broker must
// echo back for an order we placed: "<id>MYREF<epic-without-dots>".
func EncodeDealReference(reference types.OrderReference, epic string) string {
	id := reference.ReferenceID()
	return fmt.Sprintf("%dMYREF%s", id, strings.ReplaceAll(epic, ".", ""))
}

// DecodeDealReference is the inverse: given a wire reference, recover the
// OrderReference tag. ok is false for anything that doesn't match our own
// encoding — including manual trades, which carry whatever reference the
// broker's own UI assigned.
func DecodeDealReference(wire string) (types.OrderReference, bool) {
	idx := strings.Index(wire, "MYREF")
	if idx <= 0 {
		return "", false
	}
	id, err := strconv.Atoi(wire[:idx])
	if err != nil {
		return "", false
	}
	return types.ReferenceFromID(id)
}
