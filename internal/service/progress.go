package service

import (
	"sync"

	"wadispatch/internal/models"
)

// ProgressHub fans campaign progress snapshots out to live subscribers.
// Dispatch publishes after every batch; websocket handlers subscribe per
// campaign. Slow subscribers drop intermediate snapshots rather than stall
// the sender.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[int64]map[chan models.CampaignProgress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[int64]map[chan models.CampaignProgress]struct{}),
	}
}

// Subscribe registers a listener for one campaign. The returned cancel func
// must be called when the listener goes away.
func (h *ProgressHub) Subscribe(campaignID int64) (<-chan models.CampaignProgress, func()) {
	ch := make(chan models.CampaignProgress, 1)

	h.mu.Lock()
	if h.subs[campaignID] == nil {
		h.subs[campaignID] = make(map[chan models.CampaignProgress]struct{})
	}
	h.subs[campaignID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[campaignID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, campaignID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber of the campaign. A full
// subscriber buffer is drained first so the latest snapshot always wins.
func (h *ProgressHub) Publish(p models.CampaignProgress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[p.CampaignID] {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}
