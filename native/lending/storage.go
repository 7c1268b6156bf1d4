package lending

import "fmt"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	loanPrefix = []byte("lending/loan/")
	poolKey    = []byte("lending/pool")
)

func loanKey(borrower [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", loanPrefix, borrower))
}

func (e *Engine) loadLoan(borrower [20]byte) (*Loan, bool, error) {
	loan := &Loan{}
	ok, err := e.state.KVGet(loanKey(borrower), loan)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		loan = &Loan{Borrower: borrower}
	}
	loan.ensureDefaults()
	return loan, ok, nil
}

func (e *Engine) storeLoan(loan *Loan) error {
	return e.state.KVPut(loanKey(loan.Borrower), loan)
}

func (e *Engine) loadPool() (*Pool, error) {
	pool := &Pool{}
	ok, err := e.state.KVGet(poolKey, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newPool(), nil
	}
	pool.ensureDefaults()
	return pool, nil
}

func (e *Engine) storePool(pool *Pool) error {
	return e.state.KVPut(poolKey, pool)
}
