package lifecycle

import "fmt"

// Actor identifies who may drive an edge of the status machine.
type Actor int

const (
	ActorAdmin Actor = 1 << iota
	ActorAssignedMechanic
	// ActorRequesterViaCancellation marks edges a requester reaches only by
	// having a cancellation request approved.
	ActorRequesterViaCancellation
)

// Transition is one legal forward edge.
type Transition struct {
	From   Status
	To     Status
	Actors Actor
}

// Allows reports whether a is among the edge's actors.
func (t Transition) Allows(a Actor) bool {
	return t.Actors&a != 0
}

var transitions = []Transition{
	{From: Pending, To: Accepted, Actors: ActorAdmin},
	{From: Pending, To: Cancelled, Actors: ActorAdmin | ActorRequesterViaCancellation},
	{From: Accepted, To: InProgress, Actors: ActorAdmin | ActorAssignedMechanic},
	{From: Accepted, To: Cancelled, Actors: ActorAdmin | ActorAssignedMechanic | ActorRequesterViaCancellation},
	{From: InProgress, To: Completed, Actors: ActorAdmin | ActorAssignedMechanic},
	{From: InProgress, To: Cancelled, Actors: ActorAdmin | ActorAssignedMechanic | ActorRequesterViaCancellation},
}

// Transitions returns a copy of the forward-edge table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// Edge looks up the forward edge from -> to.
func Edge(from, to Status) (Transition, bool) {
	for _, t := range transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// CheckForward validates a move along the table for actor a. Terminal sources
// are always rejected.
func CheckForward(from, to Status, a Actor) error {
	if err := checkKnown(from, to); err != nil {
		return err
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	t, ok := Edge(from, to)
	if !ok || !t.Allows(a) {
		return fmt.Errorf("no transition %s -> %s", from, to)
	}
	return nil
}

// CheckOverride validates an administrative correction: any known target from
// any non-terminal source.
func CheckOverride(from, to Status) error {
	if err := checkKnown(from, to); err != nil {
		return err
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	return nil
}

func checkKnown(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	return nil
}
