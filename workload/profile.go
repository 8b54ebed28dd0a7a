// Package workload holds the operation mix a stress worker draws from.
package workload

import "math/rand"

// OpKind is one category of namespace operation a worker can issue.
type OpKind uint8

const (
	OpCreate OpKind = iota
	OpMkdir
	OpSymlink
	OpRemove
	OpRename
	OpLink
	OpExchange
	OpWhiteout

	numOps
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpMkdir:
		return "mkdir"
	case OpSymlink:
		return "symlink"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpLink:
		return "link"
	case OpExchange:
		return "exchange"
	case OpWhiteout:
		return "whiteout"
	default:
		return "unknown"
	}
}

// Profile is a weighted operation mix. The zero value picks nothing; start
// from DefaultProfile.
type Profile struct {
	weights [numOps]int
	total   int
}

// DefaultProfile returns a mix biased toward the create/rename/remove
// churn that provokes parent-chain races, with a thin tail of the rarer
// variants.
func DefaultProfile() Profile {
	var p Profile
	p.Set(OpCreate, 30)
	p.Set(OpMkdir, 10)
	p.Set(OpSymlink, 5)
	p.Set(OpRemove, 20)
	p.Set(OpRename, 25)
	p.Set(OpLink, 5)
	p.Set(OpExchange, 3)
	p.Set(OpWhiteout, 2)
	return p
}

// Set assigns a weight to one op kind. Weight 0 disables it.
func (p *Profile) Set(k OpKind, weight int) {
	if k >= numOps || weight < 0 {
		return
	}
	p.total += weight - p.weights[k]
	p.weights[k] = weight
}

// Disable removes an op kind from the mix.
func (p *Profile) Disable(k OpKind) {
	p.Set(k, 0)
}

// Weight returns the current weight of k.
func (p *Profile) Weight(k OpKind) int {
	if k >= numOps {
		return 0
	}
	return p.weights[k]
}

// Pick draws one op kind according to the weights using the caller's rng,
// so a fixed seed replays the same sequence.
func (p *Profile) Pick(rng *rand.Rand) OpKind {
	if p.total <= 0 {
		return OpCreate
	}
	n := rng.Intn(p.total)
	for k := OpKind(0); k < numOps; k++ {
		n -= p.weights[k]
		if n < 0 {
			return k
		}
	}
	return OpCreate
}
