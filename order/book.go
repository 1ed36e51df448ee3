package order

import "sort"

// entry 订单工作副本与回报排序状态，只在 Manager 锁内访问。
type entry struct {
	o       Snapshot
	nextSeq uint64
	pending map[uint64]report
}

func (e *entry) snapshot(withFills bool) Snapshot {
	s := e.o
	if withFills && len(e.o.Fills) > 0 {
		s.Fills = append([]Fill(nil), e.o.Fills...)
	} else {
		s.Fills = nil
	}
	return s
}

// table 记录订单，支持按标的查询活跃订单。
type table struct {
	orders map[ID]*entry
	active map[string]map[ID]struct{}
}

func newTable() *table {
	return &table{
		orders: make(map[ID]*entry),
		active: make(map[string]map[ID]struct{}),
	}
}

func (t *table) put(e *entry) {
	t.orders[e.o.ID] = e
}

func (t *table) get(id ID) (*entry, bool) {
	e, ok := t.orders[id]
	return e, ok
}

// reindex keeps the active index in step with the entry's status.
func (t *table) reindex(e *entry) {
	set := t.active[e.o.Instrument]
	if e.o.Active() {
		if set == nil {
			set = make(map[ID]struct{})
			t.active[e.o.Instrument] = set
		}
		set[e.o.ID] = struct{}{}
		return
	}
	if set != nil {
		delete(set, e.o.ID)
	}
}

// listActive 返回活跃订单（按 ID 升序）；instrument 为空返回全部。
func (t *table) listActive(instrument string) []Snapshot {
	var ids []ID
	for inst, set := range t.active {
		if instrument != "" && inst != instrument {
			continue
		}
		for id := range set {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	res := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		res = append(res, t.orders[id].snapshot(false))
	}
	return res
}

// list 返回全部订单（拷贝，按 ID 升序）。
func (t *table) list() []Snapshot {
	res := make([]Snapshot, 0, len(t.orders))
	for _, e := range t.orders {
		res = append(res, e.snapshot(false))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
