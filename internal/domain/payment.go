package domain

// PaymentSession is the verified view of a processor checkout session.
// Credits and UserID come from session metadata the processor holds,
// never from an inbound webhook body.
type PaymentSession struct {
	Ref              string
	Paid             bool
	AmountTotalCents int64
	UserID           string
	Credits          int
}
