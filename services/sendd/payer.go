package sendd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"payconfirm/observability/logging"
)

// Payer executes the payment held in the session. It takes no payment
// parameters of its own; whatever request the session holds is paid.
type Payer struct {
	session *SessionStore
	node    NodeClient
	logger  *slog.Logger

	mu          sync.Mutex
	lastReceipt *PaymentReceipt
}

// NewPayer constructs a payer bound to the session and node.
func NewPayer(session *SessionStore, node NodeClient, logger *slog.Logger) *Payer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Payer{session: session, node: node, logger: logger}
}

// SubmitPayment pays the ambient payment request. Node errors are returned
// unchanged so their text reaches the user verbatim.
func (p *Payer) SubmitPayment(ctx context.Context) error {
	req, err := p.session.Load(ctx)
	if err != nil {
		return err
	}
	receipt, err := p.node.PayInvoice(ctx, req.Invoice)
	if err != nil {
		p.logger.Warn("payment failed",
			slog.String("fingerprint", req.Fingerprint()),
			slog.String("error", err.Error()))
		return err
	}
	p.mu.Lock()
	p.lastReceipt = &receipt
	p.mu.Unlock()
	p.logger.Info("payment sent",
		slog.String("fingerprint", req.Fingerprint()),
		logging.MaskField("payment_preimage", receipt.PaymentPreimage),
		slog.Int64("fee_sat", receipt.FeeSat))
	return nil
}

// LastReceipt returns the receipt of the most recent successful payment.
func (p *Payer) LastReceipt() (PaymentReceipt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastReceipt == nil {
		return PaymentReceipt{}, false
	}
	return *p.lastReceipt, true
}

// BalanceCache keeps the latest channel balance in memory.
type BalanceCache struct {
	node NodeClient
	now  func() time.Time

	mu        sync.RWMutex
	balance   Balance
	refreshed time.Time
}

// NewBalanceCache constructs an empty cache.
func NewBalanceCache(node NodeClient) *BalanceCache {
	return &BalanceCache{node: node, now: time.Now}
}

// RefreshBalance reloads the channel balance from the node.
func (b *BalanceCache) RefreshBalance(ctx context.Context) error {
	balance, err := b.node.ChannelBalance(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.balance = balance
	b.refreshed = b.now()
	b.mu.Unlock()
	return nil
}

// Snapshot returns the cached balance and when it was fetched. The zero time
// means the balance was never loaded.
func (b *BalanceCache) Snapshot() (Balance, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balance, b.refreshed
}
