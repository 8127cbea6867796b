package orchestrator

import (
	"payment-status-orchestrator/internal/models"
)

// gatewayGroups keeps gateways in order of first appearance in the lookup
// success stream so the gateway fan-out and the aggregated result are
// deterministic for a given input.
type gatewayGroups struct {
	order   []string
	members map[string][]string
}

func newGatewayGroups() *gatewayGroups {
	return &gatewayGroups{members: make(map[string][]string)}
}

func (g *gatewayGroups) add(gateway, paymentID string) {
	if _, ok := g.members[gateway]; !ok {
		g.order = append(g.order, gateway)
	}
	g.members[gateway] = append(g.members[gateway], paymentID)
}

func (g *gatewayGroups) len() int { return len(g.order) }

// splitChunks slices one gateway's payment list into fixed-size chunks with
// contiguous zero-based indices. The final chunk may be shorter.
func splitChunks(paymentIDs []string, size int) []models.Chunk {
	if size < 1 {
		size = 1
	}
	chunks := make([]models.Chunk, 0, (len(paymentIDs)+size-1)/size)
	for start := 0; start < len(paymentIDs); start += size {
		end := start + size
		if end > len(paymentIDs) {
			end = len(paymentIDs)
		}
		chunks = append(chunks, models.Chunk{
			Index:      len(chunks),
			PaymentIDs: paymentIDs[start:end],
		})
	}
	return chunks
}

// buildChunks chunks every gateway's list and returns the total chunk count.
func buildChunks(groups *gatewayGroups, size int) (map[string][]models.Chunk, int) {
	chunked := make(map[string][]models.Chunk, groups.len())
	total := 0
	for _, gw := range groups.order {
		chunks := splitChunks(groups.members[gw], size)
		chunked[gw] = chunks
		total += len(chunks)
	}
	return chunked, total
}

// batchBounds yields [start, end) slices of size batchSize over n items,
// preserving input order.
type batchBounds struct {
	start, end int
}

func splitBatches(n, batchSize int) []batchBounds {
	if batchSize < 1 {
		batchSize = 1
	}
	bounds := make([]batchBounds, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		bounds = append(bounds, batchBounds{start: start, end: end})
	}
	return bounds
}
