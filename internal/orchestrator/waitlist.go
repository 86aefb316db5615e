package orchestrator

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/geoguansin/ncflow/internal/domain"
)

// WaitlistItem is a thin wrapper around an InferenceEntry waiting to be
// processed.
type WaitlistItem struct {
	Entry *domain.InferenceEntry
}

// Flow returns the item's flow index.
func (w *WaitlistItem) Flow() domain.FlowIndex { return w.Entry.FlowIndex }

// ConceptName returns the name of the concept the item infers.
func (w *WaitlistItem) ConceptName() string { return w.Entry.ConceptToInfer.Name() }

// Waitlist is the ordered collection of items to orchestrate. Once
// sorted, the item order is immutable for the run.
type Waitlist struct {
	ID    string
	Items []*WaitlistItem
}

// NewWaitlist wraps every inference of the repo and sorts by flow index.
func NewWaitlist(repo *domain.InferenceRepo) *Waitlist {
	items := make([]*WaitlistItem, 0, len(repo.All()))
	for _, inf := range repo.All() {
		items = append(items, &WaitlistItem{Entry: inf})
	}
	wl := &Waitlist{ID: uuid.NewString(), Items: items}
	wl.sortByFlowIndex()
	return wl
}

// sortByFlowIndex orders items component-wise as integer tuples.
func (wl *Waitlist) sortByFlowIndex() {
	sort.SliceStable(wl.Items, func(i, j int) bool {
		return wl.Items[i].Flow().Less(wl.Items[j].Flow())
	})
	flows := make([]string, len(wl.Items))
	for i, item := range wl.Items {
		flows[i] = string(item.Flow())
	}
	log.Debug().Strs("order", flows).Msg("waitlist sorted by flow index")
}

// Supporters returns every item whose flow index starts with the target's
// index + "." (e.g. "1.1" supports "1").
func (wl *Waitlist) Supporters(target *WaitlistItem) []*WaitlistItem {
	var out []*WaitlistItem
	for _, item := range wl.Items {
		if item != target && item.Flow().Supports(target.Flow()) {
			out = append(out, item)
		}
	}
	return out
}

// Dependents returns every item whose flow index is a strict ancestor of
// the target's index. Used for skip propagation from timing nodes.
func (wl *Waitlist) Dependents(target *WaitlistItem) []*WaitlistItem {
	var out []*WaitlistItem
	for _, item := range wl.Items {
		if item != target && item.Flow().IsAncestorOf(target.Flow()) {
			out = append(out, item)
		}
	}
	return out
}

// ByFlow returns the item at a flow index, or nil.
func (wl *Waitlist) ByFlow(idx domain.FlowIndex) *WaitlistItem {
	for _, item := range wl.Items {
		if item.Flow() == idx {
			return item
		}
	}
	return nil
}
