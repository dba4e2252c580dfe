package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Ledger is an in-memory fungible token with ERC20 balance and allowance
// semantics. Failed transfers return false and leave balances untouched.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     uint256.Int
	log        logrus.FieldLogger
}

func NewLedger(symbol string, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		log:        log.WithField("token", symbol),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(&l.supply)
}

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.balance(addr))
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.allowance(owner, spender))
}

func (l *Ledger) Mint(to common.Address, amount *uint256.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, overflow := new(uint256.Int).AddOverflow(&l.supply, amount); overflow {
		return false
	}
	l.supply.Add(&l.supply, amount)
	bal := l.balance(to)
	bal.Add(bal, amount)
	l.balances[to] = bal
	return true
}

func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from owner to to on behalf of spender.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *uint256.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowance(owner, spender)
	if allowed.Lt(amount) {
		l.log.WithFields(logrus.Fields{
			"owner":   owner.Hex(),
			"spender": spender.Hex(),
			"amount":  amount.Dec(),
		}).Debug("transferFrom exceeds allowance")
		return false
	}
	if !l.move(owner, to, amount) {
		return false
	}
	allowed.Sub(allowed, amount)
	l.allowances[owner][spender] = allowed
	return true
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int) bool {
	src := l.balance(from)
	if src.Lt(amount) {
		l.log.WithFields(logrus.Fields{
			"from":   from.Hex(),
			"amount": amount.Dec(),
		}).Debug("transfer exceeds balance")
		return false
	}
	src.Sub(src, amount)
	l.balances[from] = src
	dst := l.balance(to)
	dst.Add(dst, amount)
	l.balances[to] = dst
	return true
}

func (l *Ledger) balance(addr common.Address) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(uint256.Int)
}

// Account is a view of the ledger acting as one address: Transfer spends
// its own balance and TransferFrom spends allowances granted to it.
type Account struct {
	ledger *Ledger
	addr   common.Address
}

func (l *Ledger) Account(addr common.Address) *Account {
	return &Account{ledger: l, addr: addr}
}

func (a *Account) Address() common.Address { return a.addr }

func (a *Account) Transfer(to common.Address, amount *uint256.Int) bool {
	return a.ledger.Transfer(a.addr, to, amount)
}

func (a *Account) TransferFrom(from, to common.Address, amount *uint256.Int) bool {
	return a.ledger.TransferFrom(a.addr, from, to, amount)
}
