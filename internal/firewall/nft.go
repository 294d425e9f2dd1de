// Package firewall projects enforcement decisions into nftables sets. The
// kernel's set contents are a projection of the engine's decision, never the
// source of truth: sync reads what is there, diffs against what should be,
// and converges.
package firewall

import (
	"github.com/google/nftables"
)

// NFTConn abstracts the nftables netlink connection so sync logic can be
// tested without touching the kernel.
type NFTConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	AddChain(c *nftables.Chain) *nftables.Chain
	FlushChain(c *nftables.Chain)
	AddRule(r *nftables.Rule) *nftables.Rule
	AddSet(s *nftables.Set, elements []nftables.SetElement) error
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	SetAddElements(s *nftables.Set, elements []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, elements []nftables.SetElement) error
	Flush() error
}

// NewConn opens a lasting netlink connection to the kernel.
func NewConn() (NFTConn, error) {
	return nftables.New(nftables.AsLasting())
}
