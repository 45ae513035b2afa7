package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	// post-payment, dijalankan collaborator di luar core ini
	StatusShipped  Status = "SHIPPED"
	StatusRefunded Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true, StatusExpired: true},
	StatusPaid:      {StatusShipped: true, StatusRefunded: true},
	StatusShipped:   {StatusRefunded: true},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// ReleasesStock: transisi yang mengembalikan unit ke ledger.
func ReleasesStock(to Status) bool {
	return to == StatusCancelled || to == StatusExpired
}
