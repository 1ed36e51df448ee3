package order

import "time"

type reportKind uint8

const (
	reportAck reportKind = iota + 1
	reportFill
	reportReject
	reportCancelConfirm
)

func (k reportKind) String() string {
	switch k {
	case reportAck:
		return "ack"
	case reportFill:
		return "fill"
	case reportReject:
		return "reject"
	case reportCancelConfirm:
		return "cancel_confirm"
	default:
		return "unknown"
	}
}

// report 交易所回报，seq 为单订单内单调递增的序号（从 1 开始）。
type report struct {
	kind   reportKind
	seq    uint64
	qty    float64
	price  float64
	ts     time.Time
	reason string
}

type seqOutcome int

const (
	seqApply seqOutcome = iota
	seqDuplicate
	seqBuffered
)

// admit decides what to do with a report: apply now, drop as a redelivery, or hold until the
// gap before it is filled.
func (e *entry) admit(r report) seqOutcome {
	switch {
	case r.seq < e.nextSeq:
		return seqDuplicate
	case r.seq > e.nextSeq:
		if e.pending == nil {
			e.pending = make(map[uint64]report)
		}
		if _, dup := e.pending[r.seq]; dup {
			return seqDuplicate
		}
		e.pending[r.seq] = r
		return seqBuffered
	default:
		return seqApply
	}
}

// next pops the buffered report that is now in sequence, if any.
func (e *entry) next() (report, bool) {
	r, ok := e.pending[e.nextSeq]
	if ok {
		delete(e.pending, e.nextSeq)
	}
	return r, ok
}
