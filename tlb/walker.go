package tlb

import (
	"context"

	"github.com/dbtcore/rt/rterr"
)

// PageTable is the authoritative virtual-to-physical mapping source the
// walker consults; the engine supplies a concrete implementation backed
// by the guest's actual page tables.
type PageTable interface {
	Translate(vpn uint64, asid ASID) (ppn uint64, pageSize uint32, rights Rights, ok bool)
}

// Walker resolves TLB misses against a PageTable and services prefetch
// requests. Grounded on the teacher's eventloop dispatch: a
// blocking-request path for misses (the vCPU genuinely cannot proceed)
// and a best-effort path for prefetch (ServicePrefetch) whose failures
// are dropped. Both run synchronously on the caller's goroutine; the
// walker starts no worker of its own.
type Walker struct {
	pt PageTable
}

// NewWalker constructs a walker over pt.
func NewWalker(pt PageTable) *Walker {
	return &Walker{pt: pt}
}

// Resolve performs a synchronous page-table walk for a TLB miss. The
// vCPU blocks on this call per spec.md §5 ("on miss, the vCPU blocks
// until the walker returns"); ctx lets the caller bound that wait.
func (w *Walker) Resolve(ctx context.Context, vpn uint64, asid ASID) (Entry, error) {
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}
	ppn, pageSize, rights, ok := w.pt.Translate(vpn, asid)
	if !ok {
		return Entry{}, rterr.New(rterr.KindTranslationFault, "tlb", rterr.ErrNotFound)
	}
	return Entry{VPN: vpn, ASID: asid, PPN: ppn, PageSize: pageSize, Rights: rights, Valid: true}, nil
}

// PrefetchRequest is one entry on the walker's low-priority prefetch
// queue; Stale lets the submitter cooperatively cancel a request that's
// no longer useful (spec.md §6's "cancellation is cooperative via a
// stale-flag on queue entries").
type PrefetchRequest struct {
	VPN   uint64
	ASID  ASID
	Stale func() bool
}

// ServicePrefetch resolves a batch of prefetch requests best-effort,
// skipping stale or unresolvable ones, and returns only the entries that
// resolved successfully — the caller (TLB) installs these into L2/L3
// only, never L1, per spec.md §4.10.
func (w *Walker) ServicePrefetch(ctx context.Context, reqs []PrefetchRequest) []Entry {
	var out []Entry
	for _, r := range reqs {
		if ctx.Err() != nil {
			break
		}
		if r.Stale != nil && r.Stale() {
			continue
		}
		e, err := w.Resolve(ctx, r.VPN, r.ASID)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}
