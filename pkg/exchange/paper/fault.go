package paper

// Op names an exchange call that can be made to fail.
type Op string

const (
	OpPlace      Op = "place"
	OpCancel     Op = "cancel"
	OpGet        Op = "get"
	OpBook       Op = "book"
	OpOpenOrders Op = "open_orders"
	OpBalances   Op = "balances"
)

// InjectError makes the next times calls of op fail with err.
func (e *Exchange) InjectError(op Op, err error, times int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < times; i++ {
		e.faults[op] = append(e.faults[op], err)
	}
}

// ClearErrors drops every pending injected failure.
func (e *Exchange) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.faults = make(map[Op][]error)
}

// takeFault must be called with e.mu held.
func (e *Exchange) takeFault(op Op) error {
	queue := e.faults[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	e.faults[op] = queue[1:]
	return err
}
