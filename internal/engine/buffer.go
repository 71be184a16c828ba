package engine

import "livecap/internal/models"

// packetBuffer keeps captured records in capture order. With a positive
// limit it is a ring that overwrites the oldest record.
type packetBuffer struct {
	limit   int
	items   []models.PacketRecord
	head    int
	evicted int
}

func newPacketBuffer(limit int) *packetBuffer {
	if limit < 0 {
		limit = 0
	}
	return &packetBuffer{limit: limit}
}

func (b *packetBuffer) add(p models.PacketRecord) {
	if b.limit == 0 || len(b.items) < b.limit {
		b.items = append(b.items, p)
		return
	}
	b.items[b.head] = p
	b.head = (b.head + 1) % b.limit
	b.evicted++
}

func (b *packetBuffer) len() int {
	return len(b.items)
}

// snapshot returns the buffered records oldest first.
func (b *packetBuffer) snapshot() []models.PacketRecord {
	out := make([]models.PacketRecord, 0, len(b.items))
	out = append(out, b.items[b.head:]...)
	return append(out, b.items[:b.head]...)
}
