package bond

import (
	"sort"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// minRebalanceFloor is the floor below which a migration is never
// worth the flow-cache churn it causes: max(to.tx_bytes/32, 100_000).
const minRebalanceFloor = 100_000

type slaveBalance struct {
	ifaceIdx int
	txBytes  uint64
	hashes   []int // bucket indices into port.Bond.Hash, ascending by tx_bytes
}

// Rebalance runs one pass of the byte-accounting load shifter over a
// bonded port's hash table (§4.4 steps 1-6), then ages every bucket's
// counter by half. Callers are responsible for the 10-second debounce
// (RebalanceIntervalMS); Rebalance itself is unconditional.
func Rebalance(port *model.Port, sink tag.Sink) {
	defer ageHashCounters(port)

	if !port.IsBond() {
		return
	}

	perSlave := make(map[int]*slaveBalance, len(port.Ifaces))
	for i := range port.Ifaces {
		perSlave[i] = &slaveBalance{ifaceIdx: i}
	}
	for bucket := range port.Bond.Hash {
		slot := &port.Bond.Hash[bucket]
		if slot.IfaceIdx < 0 {
			continue
		}
		sb, ok := perSlave[slot.IfaceIdx]
		if !ok {
			continue
		}
		sb.txBytes += slot.TxBytes
		sb.hashes = append(sb.hashes, bucket)
	}

	bals := make([]*slaveBalance, 0, len(perSlave))
	for _, sb := range perSlave {
		sort.Slice(sb.hashes, func(i, j int) bool {
			return port.Bond.Hash[sb.hashes[i]].TxBytes < port.Bond.Hash[sb.hashes[j]].TxBytes
		})
		bals = append(bals, sb)
	}
	sortBals(port, bals)

	for len(bals) > 0 && !port.Ifaces[bals[len(bals)-1].ifaceIdx].Enabled {
		bals = bals[:len(bals)-1]
	}

	fromIdx := 0
	for fromIdx < len(bals)-1 {
		from := bals[fromIdx]
		to := bals[len(bals)-1]

		threshold := to.txBytes / 32
		if threshold < minRebalanceFloor {
			threshold = minRebalanceFloor
		}
		if from.txBytes <= to.txBytes || from.txBytes-to.txBytes < threshold {
			break
		}
		if len(from.hashes) <= 1 {
			fromIdx++
			continue
		}

		moved := false
		for _, bucket := range from.hashes {
			bytes := port.Bond.Hash[bucket].TxBytes
			oldRatio := loadRatio(from.txBytes, to.txBytes)
			newRatio := loadRatio(from.txBytes-bytes, to.txBytes+bytes)
			if oldRatio-newRatio > 0.1 {
				migrateBucket(port, from, to, bucket, bytes, sink)
				moved = true
				break
			}
		}
		if !moved {
			fromIdx++
			continue
		}
		if from.txBytes < to.txBytes {
			bals[fromIdx], bals[len(bals)-1] = bals[len(bals)-1], bals[fromIdx]
		}
		sortBals(port, bals)
	}
}

// loadRatio is the larger side over the smaller, always ≥ 1.
func loadRatio(a, b uint64) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	if b == 0 {
		b = 1
	}
	if a == 0 {
		a = 1
	}
	if a < b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

func migrateBucket(port *model.Port, from, to *slaveBalance, bucket int, bytes uint64, sink tag.Sink) {
	for i, h := range from.hashes {
		if h == bucket {
			from.hashes = append(from.hashes[:i], from.hashes[i+1:]...)
			break
		}
	}
	to.hashes = append(to.hashes, bucket)
	sort.Slice(to.hashes, func(i, j int) bool {
		return port.Bond.Hash[to.hashes[i]].TxBytes < port.Bond.Hash[to.hashes[j]].TxBytes
	})
	from.txBytes -= bytes
	to.txBytes += bytes

	slot := &port.Bond.Hash[bucket]
	oldTag := slot.IfaceTag
	slot.IfaceIdx = to.ifaceIdx
	slot.IfaceTag = sharedAllocator.Fresh()
	port.Bond.CompatIsStale = true
	tag.RevalidateAll(sink, oldTag)
}

// sortBals orders balances enabled-first, then descending tx_bytes,
// mirroring the two-way local bubble the reference algorithm uses to
// keep an otherwise-sorted list sorted after a single swap.
func sortBals(port *model.Port, bals []*slaveBalance) {
	sort.SliceStable(bals, func(i, j int) bool {
		ei := port.Ifaces[bals[i].ifaceIdx].Enabled
		ej := port.Ifaces[bals[j].ifaceIdx].Enabled
		if ei != ej {
			return ei
		}
		return bals[i].txBytes > bals[j].txBytes
	})
}

func ageHashCounters(port *model.Port) {
	for i := range port.Bond.Hash {
		port.Bond.Hash[i].TxBytes /= 2
	}
}
