// Package tlb implements the address-translation core from spec.md
// §4.10: a multi-level TLB with LRU replacement, an access-pattern
// analyzer, a prefetcher, and a page-table walker.
package tlb

// ASID is an address-space identifier; together with a virtual page
// number it forms a TLB entry's identity (spec.md's "TLB Entry" type).
type ASID uint32

// Rights is a bitmask of access permissions granted by a mapping.
type Rights uint8

const (
	Read Rights = 1 << iota
	Write
	Exec
)

// Entry is one TLB mapping: spec.md's "(virtual page number, ASID) ->
// physical page number, page size, access rights, hit count, valid bit".
type Entry struct {
	VPN      uint64
	ASID     ASID
	PPN      uint64
	PageSize uint32
	Rights   Rights
	HitCount uint64
	Valid    bool
}

type key struct {
	vpn  uint64
	asid ASID
}
