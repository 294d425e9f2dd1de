package firewall

import (
	"fmt"
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"grimm.is/curfew/internal/logging"
)

// TableConfig names the kernel objects the engine owns.
type TableConfig struct {
	Family     string // "inet", "ip"
	Table      string
	BlockSet   string
	MonitorSet string
}

// DefaultTableConfig matches the shipped settings block.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		Family:     "inet",
		Table:      "curfew",
		BlockSet:   "curfew_blocked",
		MonitorSet: "curfew_monitored",
	}
}

// TableStore owns the engine's nftables table: two IPv4 address sets and the
// forward-hook chain that drops traffic for blocked addresses and counts it
// for monitored ones.
type TableStore struct {
	conn   NFTConn
	logger *logging.Logger

	table   *nftables.Table
	chain   *nftables.Chain
	block   *nftables.Set
	monitor *nftables.Set
}

// NewTableStore creates a table store over the given connection.
func NewTableStore(conn NFTConn, cfg TableConfig, logger *logging.Logger) *TableStore {
	if logger == nil {
		logger = logging.Default()
	}

	family := nftables.TableFamilyINet
	if cfg.Family == "ip" {
		family = nftables.TableFamilyIPv4
	}

	table := &nftables.Table{Name: cfg.Table, Family: family}
	return &TableStore{
		conn:   conn,
		logger: logger.WithComponent("firewall"),
		table:  table,
		chain: &nftables.Chain{
			Name:     "enforce",
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookForward,
			Priority: nftables.ChainPriorityFilter,
		},
		block: &nftables.Set{
			Table:   table,
			Name:    cfg.BlockSet,
			KeyType: nftables.TypeIPAddr,
		},
		monitor: &nftables.Set{
			Table:   table,
			Name:    cfg.MonitorSet,
			KeyType: nftables.TypeIPAddr,
		},
	}
}

// Init declares the table, sets and chain, and installs the enforcement
// rules. Existing set elements survive: re-running Init adopts whatever a
// previous process left in the sets, and the first sync converges them. The
// chain is flushed before the rules are re-added so restarts never stack
// duplicate rules.
func (t *TableStore) Init() error {
	t.conn.AddTable(t.table)
	if err := t.conn.AddSet(t.block, nil); err != nil {
		return fmt.Errorf("declare set %s: %w", t.block.Name, err)
	}
	if err := t.conn.AddSet(t.monitor, nil); err != nil {
		return fmt.Errorf("declare set %s: %w", t.monitor.Name, err)
	}

	t.conn.AddChain(t.chain)
	t.conn.FlushChain(t.chain)

	// Drop both directions for blocked addresses; count monitored traffic.
	t.conn.AddRule(t.lookupRule(t.block, saddrOffset, &expr.Verdict{Kind: expr.VerdictDrop}))
	t.conn.AddRule(t.lookupRule(t.block, daddrOffset, &expr.Verdict{Kind: expr.VerdictDrop}))
	t.conn.AddRule(t.lookupRule(t.monitor, saddrOffset, &expr.Counter{}))

	if err := t.conn.Flush(); err != nil {
		return fmt.Errorf("install table %s: %w", t.table.Name, err)
	}
	t.logger.Info("firewall table ready",
		"table", t.table.Name, "block_set", t.block.Name, "monitor_set", t.monitor.Name)
	return nil
}

const (
	saddrOffset uint32 = 12
	daddrOffset uint32 = 16
)

// lookupRule matches IPv4 packets whose source or destination address is in
// the set, then applies the final expression (drop or counter).
func (t *TableStore) lookupRule(set *nftables.Set, addrOffset uint32, final expr.Any) *nftables.Rule {
	return &nftables.Rule{
		Table: t.table,
		Chain: t.chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     []byte{byte(nftables.TableFamilyIPv4)},
			},
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       addrOffset,
				Len:          4,
			},
			&expr.Lookup{
				SourceRegister: 1,
				SetName:        set.Name,
				SetID:          set.ID,
			},
			final,
		},
	}
}

// Show reads the current contents of one set.
func (t *TableStore) Show(set SetName) ([]netip.Addr, error) {
	s, err := t.set(set)
	if err != nil {
		return nil, err
	}
	elements, err := t.conn.GetSetElements(s)
	if err != nil {
		return nil, fmt.Errorf("read set %s: %w", s.Name, err)
	}
	addrs := make([]netip.Addr, 0, len(elements))
	for _, el := range elements {
		if addr, ok := netip.AddrFromSlice(el.Key); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs, nil
}

// SetName selects one of the two owned sets.
type SetName string

// Owned sets.
const (
	BlockSet   SetName = "block"
	MonitorSet SetName = "monitor"
)

func (t *TableStore) set(name SetName) (*nftables.Set, error) {
	switch name {
	case BlockSet:
		return t.block, nil
	case MonitorSet:
		return t.monitor, nil
	}
	return nil, fmt.Errorf("unknown set %q", name)
}

func elements(addrs []netip.Addr) []nftables.SetElement {
	out := make([]nftables.SetElement, 0, len(addrs))
	for _, a := range addrs {
		a4 := a.Unmap()
		if !a4.Is4() {
			continue
		}
		key := a4.As4()
		out = append(out, nftables.SetElement{Key: key[:]})
	}
	return out
}

// add stages additions for one set.
func (t *TableStore) add(set SetName, addrs []netip.Addr) error {
	s, err := t.set(set)
	if err != nil {
		return err
	}
	return t.conn.SetAddElements(s, elements(addrs))
}

// remove stages removals for one set.
func (t *TableStore) remove(set SetName, addrs []netip.Addr) error {
	s, err := t.set(set)
	if err != nil {
		return err
	}
	return t.conn.SetDeleteElements(s, elements(addrs))
}

// commit flushes staged changes to the kernel in one batch.
func (t *TableStore) commit() error {
	return t.conn.Flush()
}
