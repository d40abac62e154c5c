package publisher

import (
	"math/rand/v2"
	"sync"
)

// DefaultTopics seeds SEO generation when no custom list is configured
var DefaultTopics = []string{
	"How to choose a reliable used car",
	"Electric vs hybrid vehicles: total cost of ownership",
	"Seasonal car maintenance checklist",
	"Understanding vehicle history reports",
	"Financing a car: loans, leases and hidden fees",
	"Tire care and when to replace tires",
	"How to negotiate the price of a new car",
	"Road trip preparation for families",
	"What to check during a test drive",
	"Fuel efficiency habits that actually work",
	"Choosing the right insurance coverage for your car",
	"How modern driver assistance systems work",
}

// TopicRotation hands out topics without replacement; when every topic of
// the cycle has been used the list is reshuffled and a new cycle starts
type TopicRotation struct {
	mu      sync.Mutex
	topics  []string
	pending []string
	cycle   int
	shuffle func([]string)
}

// NewTopicRotation creates a rotation over topics, shuffled per cycle
func NewTopicRotation(topics []string) *TopicRotation {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	return &TopicRotation{
		topics: append([]string(nil), topics...),
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
}

// Next returns the next unused topic of the current cycle
func (r *TopicRotation) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		r.pending = append([]string(nil), r.topics...)
		if r.shuffle != nil {
			r.shuffle(r.pending)
		}
		r.cycle++
	}
	topic := r.pending[0]
	r.pending = r.pending[1:]
	return topic
}

// Len returns the number of topics per cycle
func (r *TopicRotation) Len() int {
	return len(r.topics)
}

// Remaining returns how many topics are left before the cycle resets
func (r *TopicRotation) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Cycle returns the 1-based number of the current cycle (0 before first use)
func (r *TopicRotation) Cycle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}
