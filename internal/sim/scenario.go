package sim

import (
	"math/rand"
	"time"
)

// Supplier is one synthetic bidder in a simulated auction.
type Supplier struct {
	Name string
	// Aggression is how many extra decrement steps below the minimum
	// undercut this bidder is willing to drop per round.
	Aggression int
	// DelayMS bounds the random pause between bid attempts.
	DelayMS int
}

// BidIntent is one planned submission: undercut the current floor by
// StepsBelow decrements.
type BidIntent struct {
	StepsBelow   int64
	DeliveryDays int
	Remark       string
	PauseMS      int
}

type Scenario struct {
	Name      string
	Suppliers []Supplier
	Remarks   []string
}

// ProcurementWarScenario is the default simulated bid war: a cautious
// incumbent, a mid-field challenger and an aggressive newcomer.
func ProcurementWarScenario() Scenario {
	return Scenario{
		Name: "ProcurementWar",
		Suppliers: []Supplier{
			{Name: "Incumbent Industries", Aggression: 0, DelayMS: 400},
			{Name: "Challenger Supply Co", Aggression: 1, DelayMS: 250},
			{Name: "Newcomer Metals", Aggression: 2, DelayMS: 150},
		},
		Remarks: []string{
			"Price includes freight to buyer warehouse",
			"Revised quote after internal cost review",
			"Final offer, production slot reserved",
		},
	}
}

type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(seed int64) Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return Generator{scenario: ProcurementWarScenario(), rnd: rand.New(rand.NewSource(seed))}
}

// NextIntent decides how hard the given supplier undercuts this round
// and how long it waits before the next attempt. Each concurrent worker
// must hold its own Generator: the underlying source is not safe for
// shared use.
func (g Generator) NextIntent(supplierIdx int) BidIntent {
	s := g.scenario.Suppliers[supplierIdx%len(g.scenario.Suppliers)]
	return BidIntent{
		StepsBelow:   1 + int64(g.rnd.Intn(s.Aggression+1)),
		DeliveryDays: 7 + g.rnd.Intn(21),
		Remark:       g.scenario.Remarks[g.rnd.Intn(len(g.scenario.Remarks))],
		PauseMS:      s.DelayMS + g.rnd.Intn(s.DelayMS+1),
	}
}

func (g Generator) Suppliers() []Supplier {
	return append([]Supplier(nil), g.scenario.Suppliers...)
}

func (g *Generator) OverrideSuppliers(suppliers []Supplier) {
	g.scenario.Suppliers = append([]Supplier(nil), suppliers...)
}
