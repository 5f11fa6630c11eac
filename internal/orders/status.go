package orders

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
)

// CONFIRMED -> CANCELED is additionally time guarded, see Service.CancelOrder.
var validNext = map[Status]map[Status]bool{
	StatusCreated:   {StatusConfirmed: true, StatusCanceled: true},
	StatusConfirmed: {StatusCanceled: true},
	StatusCanceled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
